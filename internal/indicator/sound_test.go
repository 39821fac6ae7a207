package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEveryCueRenders(t *testing.T) {
	for _, kind := range []cueKind{cueStart, cueStop, cueComplete, cueCancel, cueError} {
		require.NotEmpty(t, rendered[kind], "cue %d", kind)
	}
	require.Empty(t, rendered[cueKind(99)])
}

func TestCueRenderLengthIncludesGaps(t *testing.T) {
	c := cue{{hz: 440, d: 50 * time.Millisecond}, {hz: 660, d: 30 * time.Millisecond}}
	want := sampleCount(50*time.Millisecond) + sampleCount(cueGap) + sampleCount(30*time.Millisecond)
	require.Len(t, c.render(0.2), want)
	require.Empty(t, c.render(0))
	require.Empty(t, cue(nil).render(0.2))
}

func TestToneRenderStaysWithinVolume(t *testing.T) {
	pcm := tone{hz: 440, d: 100 * time.Millisecond}.render(0.25)
	require.Len(t, pcm, sampleCount(100*time.Millisecond))

	const limit int16 = 8192
	for _, s := range pcm {
		require.LessOrEqual(t, s, limit)
		require.GreaterOrEqual(t, s, -limit)
	}
	require.Zero(t, pcm[0])
	require.Zero(t, pcm[len(pcm)-1])
}

func TestToneRenderRejectsInvalidTone(t *testing.T) {
	require.Empty(t, tone{hz: 0, d: 100 * time.Millisecond}.render(0.2))
	require.Empty(t, tone{hz: 440, d: 0}.render(0.2))
	require.Empty(t, tone{hz: 440, d: 100 * time.Millisecond}.render(0))
}

func TestEnvelopeRamps(t *testing.T) {
	require.Equal(t, 0.0, envelope(0, 100, 10))
	require.Equal(t, 0.5, envelope(5, 100, 10))
	require.Equal(t, 1.0, envelope(50, 100, 10))
	require.Equal(t, 0.0, envelope(99, 100, 10))
	require.Equal(t, 1.0, envelope(0, 100, 0))
}

func TestEmitCueRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, emitCue(ctx, cueStart), context.Canceled)
}
