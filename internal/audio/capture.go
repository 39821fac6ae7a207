package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// SampleRate is the capture rate in Hz; samples are mono s16le.
	SampleRate     = 16000
	bytesPerSample = 2

	defaultChunkDuration = 20 * time.Millisecond
	minChunkDuration     = 10 * time.Millisecond
	maxChunkDuration     = 250 * time.Millisecond
)

// CaptureOptions tune one capture stream.
type CaptureOptions struct {
	// ChunkDuration is the audio length of each Chunks value. Zero means 20ms.
	ChunkDuration time.Duration
	// RetainPCM keeps every captured byte for RawPCM.
	RetainPCM bool
}

// chunkSize converts a chunk duration into whole samples of bytes.
func (o CaptureOptions) chunkSize() int {
	d := o.ChunkDuration
	switch {
	case d <= 0:
		d = defaultChunkDuration
	case d < minChunkDuration:
		d = minChunkDuration
	case d > maxChunkDuration:
		d = maxChunkDuration
	}
	samples := int(int64(SampleRate) * int64(d) / int64(time.Second))
	return samples * bytesPerSample
}

// PCMDuration returns the audio length of n captured bytes.
func PCMDuration(n int64) time.Duration {
	return time.Duration(n/bytesPerSample) * time.Second / SampleRate
}

// Capture streams fixed-size PCM chunks from one Pulse source.
type Capture struct {
	device    Device
	chunkSize int
	retain    bool

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	rawPCM  []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
	peak     atomic.Int32
}

func newCapture(device Device, opts CaptureOptions) *Capture {
	return &Capture{
		device:    device,
		chunkSize: opts.chunkSize(),
		retain:    opts.RetainPCM,
		chunks:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
	}
}

// StartCapture opens a 16kHz mono s16 record stream on device. The stream
// stops when ctx is done.
func StartCapture(ctx context.Context, device Device, opts CaptureOptions) (*Capture, error) {
	client, err := connect()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	capture := newCapture(device, opts)
	capture.client = client

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(uint32(capture.chunkSize)),
		pulse.RecordMediaName(appName+" dictation"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	context.AfterFunc(ctx, func() {
		_ = capture.Stop()
	})

	return capture, nil
}

// Device returns the source being recorded.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks yields PCM slices of the configured chunk size. The final slice
// after Stop may be shorter.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Peak reports the loudest sample seen so far, scaled to 0..1.
func (c *Capture) Peak() float64 {
	return float64(c.peak.Load()) / 32768
}

// RawPCM returns a copy of the captured audio. It is empty unless the
// capture was started with RetainPCM.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.rawPCM...)
}

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	rest := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(rest) > 0 {
		select {
		case c.chunks <- rest:
		default:
		}
	}

	close(c.chunks)
	return nil
}

// Close is Stop without the error.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw Pulse frames and emits chunkSize slices.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same lock as stopped so Stop's Wait sees it.
	c.inflight.Add(1)
	defer c.inflight.Done()

	if c.retain {
		c.rawPCM = append(c.rawPCM, buffer...)
	}
	c.pending = append(c.pending, buffer...)

	var ready [][]byte
	for len(c.pending) >= c.chunkSize {
		ready = append(ready, append([]byte(nil), c.pending[:c.chunkSize]...))
		c.pending = c.pending[c.chunkSize:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.mu.Unlock()

	c.bytes.Add(int64(len(buffer)))
	c.recordPeak(buffer)

	for _, chunk := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}

	return len(buffer), nil
}

// recordPeak tracks the maximum absolute s16le sample amplitude.
func (c *Capture) recordPeak(buffer []byte) {
	var loudest int32
	for i := 0; i+1 < len(buffer); i += bytesPerSample {
		sample := int32(int16(binary.LittleEndian.Uint16(buffer[i:])))
		if sample < 0 {
			sample = -sample
		}
		loudest = max(loudest, sample)
	}
	for {
		current := c.peak.Load()
		if loudest <= current || c.peak.CompareAndSwap(current, loudest) {
			return
		}
	}
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
