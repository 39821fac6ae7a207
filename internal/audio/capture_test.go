package audio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChunkSizeFollowsDuration(t *testing.T) {
	require.Equal(t, 640, CaptureOptions{}.chunkSize())
	require.Equal(t, 3200, CaptureOptions{ChunkDuration: 100 * time.Millisecond}.chunkSize())
	require.Equal(t, 320, CaptureOptions{ChunkDuration: time.Millisecond}.chunkSize())
	require.Equal(t, 8000, CaptureOptions{ChunkDuration: time.Second}.chunkSize())
}

func TestPCMDuration(t *testing.T) {
	require.Equal(t, time.Second, PCMDuration(32000))
	require.Equal(t, 20*time.Millisecond, PCMDuration(640))
	require.Zero(t, PCMDuration(1))
}

func TestCaptureOnPCMChunkingAndStopFlushesPending(t *testing.T) {
	capture := newCapture(Device{ID: "mic"}, CaptureOptions{RetainPCM: true})

	input := make([]byte, 2*640+111)
	for i := range input {
		input[i] = byte(i % 255)
	}

	n, err := capture.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), capture.BytesCaptured())
	require.Equal(t, input, capture.RawPCM())

	require.Equal(t, input[:640], <-capture.Chunks())
	require.Equal(t, input[640:1280], <-capture.Chunks())

	require.NoError(t, capture.Stop())

	remaining, ok := <-capture.Chunks()
	require.True(t, ok)
	require.Equal(t, input[1280:], remaining)

	_, ok = <-capture.Chunks()
	require.False(t, ok)
	require.NoError(t, capture.Stop())
}

func TestCaptureDropsRawPCMUnlessRetained(t *testing.T) {
	capture := newCapture(Device{ID: "mic"}, CaptureOptions{ChunkDuration: 10 * time.Millisecond})

	_, err := capture.onPCM(make([]byte, 320))
	require.NoError(t, err)
	require.Len(t, <-capture.Chunks(), 320)
	require.Empty(t, capture.RawPCM())
	require.Equal(t, int64(320), capture.BytesCaptured())
	capture.Close()
}

func TestCapturePeakTracksLoudestSample(t *testing.T) {
	capture := newCapture(Device{}, CaptureOptions{})
	require.Zero(t, capture.Peak())

	// samples: 100, -16384, 2
	_, err := capture.onPCM([]byte{0x64, 0x00, 0x00, 0xC0, 0x02, 0x00})
	require.NoError(t, err)
	require.InDelta(t, 0.5, capture.Peak(), 1e-9)

	_, err = capture.onPCM([]byte{0x10, 0x00})
	require.NoError(t, err)
	require.InDelta(t, 0.5, capture.Peak(), 1e-9)
}

func TestCaptureOnPCMReturnsEOFWhenStopped(t *testing.T) {
	capture := newCapture(Device{}, CaptureOptions{})
	require.NoError(t, capture.Stop())

	n, err := capture.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(0), capture.BytesCaptured())
}

func TestCaptureDeviceAndCloseAlias(t *testing.T) {
	capture := newCapture(Device{ID: "mic-1", Description: "Mic"}, CaptureOptions{})
	require.Equal(t, "mic-1", capture.Device().ID)

	capture.Close()
	_, ok := <-capture.Chunks()
	require.False(t, ok)
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	var got []byte
	writer := writerFunc(func(b []byte) (int, error) {
		got = append(got, b...)
		return len(b), nil
	})

	n, err := writer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, got)
}
