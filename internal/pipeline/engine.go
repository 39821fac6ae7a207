// Package pipeline implements the speech engine as Pulse capture streamed
// into a Deepgram live-transcription socket.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voxpage/internal/audio"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/deepgram"
	"github.com/rbright/voxpage/internal/speech"
	"github.com/rbright/voxpage/internal/transcript"
	"golang.org/x/sync/errgroup"
)

const closeTimeout = 10 * time.Second

// ErrMissingAPIKey indicates the STT credential variable is unset.
var ErrMissingAPIKey = errors.New("missing speech api key")

type captureClient interface {
	Chunks() <-chan []byte
	Stop() error
	RawPCM() []byte
	BytesCaptured() int64
	Peak() float64
}

type streamClient interface {
	Results() <-chan deepgram.Result
	SendAudio(ctx context.Context, chunk []byte) error
	CloseAndCollect(ctx context.Context) ([]string, time.Duration, error)
	Cancel() error
	Err() error
}

var _ speech.Engine = (*Engine)(nil)

// Engine starts one capture + recognition run per activation.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	apiKey string

	selectDevice func(ctx context.Context, input string, fallback string) (audio.Selection, error)
	dialStream   func(ctx context.Context, cfg deepgram.StreamConfig) (streamClient, error)
	startCapture func(ctx context.Context, device audio.Device) (captureClient, error)
}

// NewEngine builds an engine from runtime config. The API key is read from
// the environment variable named by stt.api_key_env.
func NewEngine(cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:          cfg,
		logger:       logger,
		apiKey:       strings.TrimSpace(os.Getenv(cfg.STT.APIKeyEnv)),
		selectDevice: audio.SelectDevice,
		dialStream: func(ctx context.Context, sc deepgram.StreamConfig) (streamClient, error) {
			return deepgram.DialStream(ctx, sc)
		},
		startCapture: func(ctx context.Context, device audio.Device) (captureClient, error) {
			return audio.StartCapture(ctx, device, audio.CaptureOptions{RetainPCM: cfg.Debug.EnableAudioDump})
		},
	}
}

// Start selects the microphone, opens the recognition socket, and starts capture.
func (e *Engine) Start(ctx context.Context, opts speech.Options) (speech.Stream, error) {
	if e.apiKey == "" {
		return nil, speech.Failure(speech.CodeStartFailed, fmt.Errorf("%w: set %s", ErrMissingAPIKey, e.cfg.STT.APIKeyEnv))
	}

	selection, err := e.selectDevice(ctx, e.cfg.Audio.Input, e.cfg.Audio.Fallback)
	if err != nil {
		return nil, speech.Failure(speech.CodeAudioCapture, err)
	}
	if selection.Warning != "" {
		e.logger.Warn(selection.Warning)
	}

	language := strings.TrimSpace(opts.Language)
	if language == "" {
		language = e.cfg.Language
	}

	r := &run{
		logger:    e.logger.With("language", language),
		selection: selection,
		audioDump: e.cfg.Debug.EnableAudioDump,
		events:    make(chan speech.Event, 64),
		stopCh:    make(chan struct{}),
		abortCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	streamCfg := deepgram.StreamConfig{
		Endpoint:      e.cfg.STT.Endpoint,
		APIKey:        e.apiKey,
		Model:         e.cfg.STT.Model,
		LanguageCode:  language,
		SampleRate:    audio.SampleRate,
		Channels:      1,
		Punctuate:     e.cfg.STT.Punctuate,
		EndpointingMS: e.cfg.STT.EndpointingMS,
		Keywords:      e.cfg.STT.Keywords,
		DialTimeout:   5 * time.Second,
	}
	if e.cfg.Debug.EnableSTTDump {
		file, ferr := openDump("stt", "jsonl", time.Now())
		if ferr != nil {
			e.logger.Warn("unable to create stt debug dump", "error", ferr.Error())
		} else {
			r.debugFile = file
			streamCfg.DebugResponseSinkJSON = file
		}
	}

	stream, err := e.dialStream(ctx, streamCfg)
	if err != nil {
		r.closeDebug()
		return nil, speech.Failure(speech.CodeNetwork, err)
	}
	r.stream = stream

	capture, err := e.startCapture(ctx, selection.Device)
	if err != nil {
		_ = stream.Cancel()
		r.closeDebug()
		return nil, speech.Failure(speech.CodeAudioCapture, err)
	}
	r.capture = capture

	go r.run(ctx)
	return r, nil
}

// run is one active recognition stream.
type run struct {
	logger    *slog.Logger
	selection audio.Selection
	capture   captureClient
	stream    streamClient
	audioDump bool

	events chan speech.Event

	stopOnce  sync.Once
	abortOnce sync.Once
	stopCh    chan struct{}
	abortCh   chan struct{}
	done      chan struct{}

	lastFinal string

	mu        sync.Mutex
	debugFile *os.File
}

func (r *run) Events() <-chan speech.Event { return r.events }

// Stop stops capture and flushes pending recognition results.
func (r *run) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Abort drops the run without flushing.
func (r *run) Abort() {
	r.abortOnce.Do(func() { close(r.abortCh) })
}

func (r *run) run(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)
	defer r.closeDebug()

	startedAt := time.Now()
	r.emit(speech.Event{Kind: speech.EventStart})

	g, gctx := errgroup.WithContext(ctx)
	sendDone := make(chan error, 1)
	forwardDone := make(chan struct{})
	g.Go(func() error {
		err := r.sendLoop(gctx)
		sendDone <- err
		return err
	})
	g.Go(func() error {
		defer close(forwardDone)
		r.forwardResults()
		return nil
	})

	var latency time.Duration
	defer func() {
		r.logger.Info("speech run finished",
			"audio_device", r.selection.Device.String(),
			"bytes_captured", r.capture.BytesCaptured(),
			"audio_ms", audio.PCMDuration(r.capture.BytesCaptured()).Milliseconds(),
			"peak", r.capture.Peak(),
			"close_latency_ms", latency.Milliseconds(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		r.writeDebugAudio(r.capture.RawPCM())
	}()

	select {
	case <-r.stopCh:
		_ = r.capture.Stop()
		if err := <-sendDone; err != nil {
			r.teardown(g)
			r.emitError(speech.CodeNetwork, fmt.Errorf("send audio stream: %w", err))
			return
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		segments, closeLatency, err := r.stream.CloseAndCollect(closeCtx)
		cancel()
		latency = closeLatency
		_ = g.Wait()
		if err != nil {
			r.emitError(speech.CodeNetwork, fmt.Errorf("collect final transcript: %w", err))
			return
		}
		if text := transcript.Join(segments, ""); text != "" && text != r.lastFinal {
			r.emit(speech.Event{Kind: speech.EventResult, Transcript: text, IsFinal: true})
		}
		r.emit(speech.Event{Kind: speech.EventEnd})

	case <-r.abortCh:
		r.teardown(g)

	case <-ctx.Done():
		r.teardown(g)

	case err := <-sendDone:
		r.teardown(g)
		if err == nil {
			r.emitError(speech.CodeAudioCapture, errors.New("audio capture ended"))
			return
		}
		r.emitError(speech.CodeNetwork, fmt.Errorf("send audio stream: %w", err))

	case <-forwardDone:
		_ = r.capture.Stop()
		_ = g.Wait()
		if err := r.stream.Err(); err != nil {
			_ = r.stream.Cancel()
			r.emitError(speech.CodeNetwork, err)
			return
		}
		_ = r.stream.Cancel()
		r.emit(speech.Event{Kind: speech.EventEnd})
	}
}

// teardown drops capture and socket and joins the worker goroutines.
func (r *run) teardown(g *errgroup.Group) {
	_ = r.capture.Stop()
	_ = r.stream.Cancel()
	_ = g.Wait()
}

// sendLoop forwards capture chunks to the socket until capture closes.
func (r *run) sendLoop(ctx context.Context) error {
	for chunk := range r.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := r.stream.SendAudio(ctx, chunk); err != nil {
			_ = r.capture.Stop()
			return err
		}
	}
	return nil
}

func (r *run) forwardResults() {
	for result := range r.stream.Results() {
		if result.IsFinal {
			r.lastFinal = result.Transcript
		}
		r.emit(speech.Event{Kind: speech.EventResult, Transcript: result.Transcript, IsFinal: result.IsFinal})
	}
}

func (r *run) emit(ev speech.Event) {
	select {
	case r.events <- ev:
	case <-r.abortCh:
	}
}

func (r *run) emitError(code speech.ErrorCode, err error) {
	r.emit(speech.Event{Kind: speech.EventError, Code: code, Err: speech.Failure(code, err)})
}

func (r *run) closeDebug() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debugFile != nil {
		_ = r.debugFile.Close()
		r.debugFile = nil
	}
}

// writeDebugAudio writes raw PCM to WAV when debug.audio_dump is enabled.
func (r *run) writeDebugAudio(rawPCM []byte) {
	if !r.audioDump || len(rawPCM) == 0 {
		return
	}

	file, err := openDump("audio", "wav", time.Now())
	if err != nil {
		r.logger.Warn("unable to create debug audio dump", "error", err.Error())
		return
	}
	defer file.Close()

	if err := writeWAV(file, rawPCM, audio.SampleRate); err != nil {
		r.logger.Warn("unable to write debug audio dump", "error", err.Error())
	}
}
