// Package deepgram streams PCM audio to a Deepgram live-transcription
// endpoint and merges interim and final results.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultEndpoint is the hosted live-transcription URL.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

// StreamConfig controls stream initialization and recognition behavior.
type StreamConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	LanguageCode   string
	SampleRate     int
	Channels       int
	Punctuate      bool
	EndpointingMS  int
	UtteranceEndMS int
	Keywords       []string
	DialTimeout    time.Duration
	HTTPClient     *http.Client

	DebugResponseSinkJSON io.Writer
}

// Result is one merged transcript update. Transcript holds everything
// recognized so far in the stream.
type Result struct {
	Transcript string
	IsFinal    bool
}

// Stream wraps one live-transcription websocket.
type Stream struct {
	conn    *websocket.Conn
	results chan Result

	recvDone chan struct{}
	closed   chan struct{}
	stop     context.CancelFunc

	mu            sync.Mutex
	segments      []string
	lastInterim   string
	pendingFinal  bool
	recvErr       error
	closedSend    bool
	closeOnce     sync.Once
	debugSinkJSON io.Writer
}

// DialStream connects to the endpoint and starts the receive loop.
func DialStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	endpoint, err := buildURL(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	headers := http.Header{}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		headers.Set("Authorization", "Token "+key)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial deepgram %q: %w", redact(endpoint), err)
	}

	recvCtx, stop := context.WithCancel(context.Background())
	s := &Stream{
		conn:          conn,
		results:       make(chan Result, 64),
		recvDone:      make(chan struct{}),
		closed:        make(chan struct{}),
		stop:          stop,
		debugSinkJSON: cfg.DebugResponseSinkJSON,
	}
	go s.recvLoop(recvCtx)
	return s, nil
}

// buildURL applies recognition options as query parameters.
func buildURL(cfg StreamConfig) (string, error) {
	raw := strings.TrimSpace(cfg.Endpoint)
	if raw == "" {
		raw = DefaultEndpoint
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("deepgram endpoint %q must use ws or wss", raw)
	}

	language := strings.TrimSpace(cfg.LanguageCode)
	if language == "" {
		language = "en-US"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	if model := strings.TrimSpace(cfg.Model); model != "" {
		q.Set("model", model)
	}
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	if cfg.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMS))
	}
	if cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
		q.Set("vad_events", "true")
	}
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			q.Add("keywords", kw)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Results delivers merged transcript updates; it closes when the stream ends.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// SendAudio sends one chunk of PCM audio over the active stream.
func (s *Stream) SendAudio(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closedSend
	recvErr := s.recvErr
	s.mu.Unlock()

	if closed {
		return errors.New("stream already closed for sending")
	}
	if recvErr != nil {
		return fmt.Errorf("stream receive loop failed: %w", recvErr)
	}
	return s.conn.Write(ctx, websocket.MessageBinary, chunk)
}

// CloseAndCollect asks the server to flush, waits for the receive loop, and
// returns merged transcript segments.
func (s *Stream) CloseAndCollect(ctx context.Context) ([]string, time.Duration, error) {
	closedAt := time.Now()

	s.mu.Lock()
	alreadyClosed := s.closedSend
	s.closedSend = true
	s.mu.Unlock()
	if !alreadyClosed {
		if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			s.shutdown()
			return nil, 0, fmt.Errorf("send close stream: %w", err)
		}
	}

	select {
	case <-s.recvDone:
	case <-ctx.Done():
		s.shutdown()
		return nil, 0, ctx.Err()
	}
	latency := time.Since(closedAt)
	s.shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvErr != nil {
		return nil, latency, s.recvErr
	}
	return collectSegments(s.segments, s.lastInterim), latency, nil
}

// Err reports the receive-loop failure, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// Cancel aborts stream processing and closes the websocket.
func (s *Stream) Cancel() error {
	s.mu.Lock()
	s.closedSend = true
	s.mu.Unlock()
	s.shutdown()
	<-s.recvDone
	return nil
}

func (s *Stream) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.stop()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
}

// redact hides credentials that may be embedded in endpoint URLs.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
