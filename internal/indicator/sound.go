package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
	cueError
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.18
	cueGap        = 22 * time.Millisecond
	cueMaxRamp    = 5 * time.Millisecond
)

// tone is one sine segment of a cue.
type tone struct {
	hz float64
	d  time.Duration
}

// cue is a sequence of tones separated by short silences.
type cue []tone

var cues = map[cueKind]cue{
	cueStart:    {{hz: 880, d: 70 * time.Millisecond}, {hz: 1175, d: 70 * time.Millisecond}},
	cueStop:     {{hz: 620, d: 120 * time.Millisecond}},
	cueComplete: {{hz: 740, d: 65 * time.Millisecond}, {hz: 988, d: 90 * time.Millisecond}},
	cueCancel:   {{hz: 480, d: 75 * time.Millisecond}, {hz: 360, d: 90 * time.Millisecond}},
	cueError:    {{hz: 330, d: 90 * time.Millisecond}, {hz: 330, d: 90 * time.Millisecond}},
}

// rendered holds the PCM for each cue, built once at init.
var rendered = func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cues))
	for kind, c := range cues {
		out[kind] = c.render(cueVolume)
	}
	return out
}()

func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pcm := rendered[kind]
	if len(pcm) == 0 {
		return nil
	}
	return playPCM(ctx, pcm)
}

// playPCM plays mono 16kHz samples on the default sink and waits for the
// stream to drain.
func playPCM(ctx context.Context, pcm []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("voxpage"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := pcm
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || len(remaining) == 0 {
			return 0, pulse.EndOfData
		}
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("voxpage cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// render synthesizes the cue at volume (0..1).
func (c cue) render(volume float64) []int16 {
	if len(c) == 0 || volume <= 0 {
		return nil
	}
	gap := sampleCount(cueGap)
	var pcm []int16
	for i, t := range c {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, t.render(volume)...)
	}
	return pcm
}

// render synthesizes one sine segment with a linear attack and release of at
// most cueMaxRamp.
func (t tone) render(volume float64) []int16 {
	n := sampleCount(t.d)
	if n <= 0 || t.hz <= 0 || volume <= 0 {
		return nil
	}
	ramp := min(max(n/10, 1), sampleCount(cueMaxRamp))

	pcm := make([]int16, n)
	step := 2 * math.Pi * t.hz / cueSampleRate
	for i := range pcm {
		gain := volume * envelope(i, n, ramp)
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
	}
	return pcm
}

// envelope is the gain of sample i in a segment of n samples.
func envelope(i, n, ramp int) float64 {
	if ramp <= 0 {
		return 1
	}
	return min(1, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
