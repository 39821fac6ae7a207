// Package audio discovers PulseAudio input sources, picks the one to dictate
// from, and streams its PCM in fixed-size chunks.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const appName = "voxpage"

var (
	// ErrServerUnavailable indicates the Pulse server could not be reached.
	ErrServerUnavailable = errors.New("pulse server unavailable")
	// ErrNoDevices indicates no input source exists.
	ErrNoDevices = errors.New("no audio input devices found")
	// ErrDeviceUnusable indicates the selected source (and its fallback) is muted or unavailable.
	ErrDeviceUnusable = errors.New("audio input unusable")
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
	// Monitor marks a sink monitor, which records playback rather than a microphone.
	Monitor bool
}

// String formats the device for logs as "Description (id)".
func (d Device) String() string {
	description := strings.TrimSpace(d.Description)
	id := strings.TrimSpace(d.ID)
	switch {
	case description == "":
		return id
	case id == "":
		return description
	default:
		return description + " (" + id + ")"
	}
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func connect() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	return client, nil
}

// ListDevices returns the server's input sources, default first.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultSource.ID(),
			Monitor:     strings.HasSuffix(source.SourceName, ".monitor"),
		})
	}
	sortDevices(devices)
	return devices, nil
}

// sortDevices orders the default source first, then microphones before
// monitors, then by id.
func sortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.Default != b.Default {
			return a.Default
		}
		if a.Monitor != b.Monitor {
			return !a.Monitor
		}
		return a.ID < b.ID
	})
}

// SelectDevice resolves audio.input/audio.fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

func isDefaultTerm(term string) bool {
	return term == "" || term == "default"
}

// selectDeviceFromList applies the selection policy: the configured input (or
// the server default) when usable, else the fallback (or the default).
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoDevices
	}

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	defaultDevice := findDefault(devices)

	var primary *Device
	switch {
	case isDefaultTerm(input):
		if defaultDevice == nil {
			return Selection{}, fmt.Errorf("%w: default source is unavailable", ErrDeviceUnusable)
		}
		primary = defaultDevice
	default:
		primary = matchDevice(devices, input)
		if primary == nil {
			return Selection{}, fmt.Errorf("audio.input %q did not match any device", input)
		}
	}
	if usable(*primary) {
		return Selection{Device: *primary}, nil
	}

	reason := unusableReason(*primary)

	var backup *Device
	if isDefaultTerm(fallback) {
		if defaultDevice == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w: default source is unavailable", primary.ID, reason, ErrDeviceUnusable)
		}
		backup = defaultDevice
	} else {
		backup = matchDevice(devices, fallback)
		if backup == nil {
			return Selection{}, fmt.Errorf("%w: primary input %q is %s and fallback %q not found", ErrDeviceUnusable, primary.ID, reason, fallback)
		}
	}

	if !backup.Available {
		return Selection{}, fmt.Errorf("%w: fallback device %q is not available", ErrDeviceUnusable, backup.ID)
	}
	if backup.Muted {
		return Selection{}, fmt.Errorf("%w: fallback device %q is muted", ErrDeviceUnusable, backup.ID)
	}

	return Selection{
		Device:   *backup,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, backup.ID),
		Fallback: primary.ID != backup.ID,
	}, nil
}

func findDefault(devices []Device) *Device {
	for i := range devices {
		if devices[i].Default {
			return &devices[i]
		}
	}
	return nil
}

// matchDevice finds term among devices. An exact id or description wins over
// a substring; substring matches skip sink monitors.
func matchDevice(devices []Device, term string) *Device {
	if term == "" {
		return nil
	}
	for i := range devices {
		if strings.EqualFold(devices[i].ID, term) || strings.EqualFold(devices[i].Description, term) {
			return &devices[i]
		}
	}
	for i := range devices {
		if !devices[i].Monitor && strings.Contains(strings.ToLower(devices[i].ID), term) {
			return &devices[i]
		}
	}
	for i := range devices {
		if !devices[i].Monitor && strings.Contains(strings.ToLower(devices[i].Description), term) {
			return &devices[i]
		}
	}
	return nil
}

func usable(d Device) bool {
	return d.Available && !d.Muted
}

func unusableReason(d Device) string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable reports the availability of the source's active port.
// Sources without ports are always available.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name == source.ActivePortName {
			// unknown=0, no=1, yes=2
			return port.Available != 1
		}
	}
	return true
}
