package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestDeviceString(t *testing.T) {
	require.Equal(t, "Elgato (alsa_input.wave3)", Device{Description: "Elgato", ID: "alsa_input.wave3"}.String())
	require.Equal(t, "Elgato", Device{Description: " Elgato "}.String())
	require.Equal(t, "alsa_input.wave3", Device{ID: "alsa_input.wave3"}.String())
}

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
	require.False(t, selection.Fallback)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "Elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListUnavailablePrimaryFallsBackToDefault(t *testing.T) {
	devices := []Device{
		{ID: "builtin", Description: "Built-in Audio", Available: true, Default: true},
		{ID: "usb-mic", Description: "USB Microphone", Available: false},
	}

	selection, err := selectDeviceFromList(devices, "usb", "default")
	require.NoError(t, err)
	require.Equal(t, "builtin", selection.Device.ID)
	require.Contains(t, selection.Warning, "unavailable")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListFailsWhenSelectedAndFallbackMuted(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
	}

	_, err := selectDeviceFromList(devices, "default", "default")
	require.ErrorIs(t, err, ErrDeviceUnusable)
	require.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceFromListMissingFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: false, Default: true},
	}

	_, err := selectDeviceFromList(devices, "elgato", "sony")
	require.ErrorIs(t, err, ErrDeviceUnusable)
	require.Contains(t, err.Error(), `fallback "sony" not found`)
}

func TestSelectDeviceFromListEmpty(t *testing.T) {
	_, err := selectDeviceFromList(nil, "default", "default")
	require.ErrorIs(t, err, ErrNoDevices)
}

func TestSelectDeviceFromListUnknownInput(t *testing.T) {
	devices := []Device{{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true}}

	_, err := selectDeviceFromList(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")
}

func TestMatchDevicePrefersExactAndSkipsMonitors(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.usb-elgato.monitor", Description: "Monitor of Elgato", Monitor: true},
		{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"},
		{ID: "mic", Description: "Desk mic"},
		{ID: "alsa_input.mic-array", Description: "Mic Array"},
	}

	require.Equal(t, "alsa_input.usb-elgato", matchDevice(devices, "elgato").ID)
	require.Equal(t, "alsa_input.usb-elgato", matchDevice(devices, "wave 3").ID)
	require.Equal(t, "mic", matchDevice(devices, "mic").ID)
	require.Equal(t, "alsa_output.usb-elgato.monitor", matchDevice(devices, "alsa_output.usb-elgato.monitor").ID)
	require.Nil(t, matchDevice(devices, "missing"))
	require.Nil(t, matchDevice(devices, ""))
}

func TestSortDevicesDefaultThenMicrophones(t *testing.T) {
	devices := []Device{
		{ID: "z.monitor", Monitor: true},
		{ID: "b-mic"},
		{ID: "a-mic"},
		{ID: "default-mic", Default: true},
	}
	sortDevices(devices)

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	require.Equal(t, []string{"default-mic", "a-mic", "b-mic", "z.monitor"}, ids)
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.ErrorIs(t, err, ErrServerUnavailable)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.ErrorIs(t, err, ErrServerUnavailable)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{}))

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, available, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	unknown := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, unknown, []sourcePort{{name: "line", available: 1}, {name: "mic", available: 0}})
	require.True(t, sourceAvailable(unknown))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, notAvailable, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(sliceValue)
}
