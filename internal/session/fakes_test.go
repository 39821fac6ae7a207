package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/correction"
	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/resolve"
	"github.com/rbright/voxpage/internal/sites"
	"github.com/rbright/voxpage/internal/speech"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	events  chan speech.Event
	aborted atomic.Bool
	stopped atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan speech.Event, 16)}
}

func (s *fakeStream) Events() <-chan speech.Event { return s.events }
func (s *fakeStream) Stop()                       { s.stopped.Store(true) }
func (s *fakeStream) Abort()                      { s.aborted.Store(true) }

func (s *fakeStream) interim(text string) {
	s.events <- speech.Event{Kind: speech.EventResult, Transcript: text}
}

func (s *fakeStream) final(text string) {
	s.events <- speech.Event{Kind: speech.EventResult, Transcript: text, IsFinal: true}
}

type fakeEngine struct {
	mu       sync.Mutex
	streams  []*fakeStream
	starts   []speech.Options
	startErr error
}

func newFakeEngine(streams int) *fakeEngine {
	e := &fakeEngine{}
	for range streams {
		e.streams = append(e.streams, newFakeStream())
	}
	return e
}

func (e *fakeEngine) Start(_ context.Context, opts speech.Options) (speech.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.starts = append(e.starts, opts)
	if len(e.starts) > len(e.streams) {
		e.streams = append(e.streams, newFakeStream())
	}
	return e.streams[len(e.starts)-1], nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.starts)
}

func (e *fakeEngine) languages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.starts))
	for _, s := range e.starts {
		out = append(out, s.Language)
	}
	return out
}

type correctorFunc func(ctx context.Context, req correction.Request) (string, error)

func (f correctorFunc) Correct(ctx context.Context, req correction.Request) (string, error) {
	return f(ctx, req)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	turns   []correction.Turn
}

func (h *fakeHistory) Append(e history.Entry) (history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return e, nil
}

func (h *fakeHistory) PriorTurns(string) []correction.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns
}

func (h *fakeHistory) recorded() []history.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Entry(nil), h.entries...)
}

type fakeClipboard struct {
	mu     sync.Mutex
	copies []string
}

func (c *fakeClipboard) Copy(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies = append(c.copies, text)
	return nil
}

func (c *fakeClipboard) copied() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.copies...)
}

type harness struct {
	ctrl      *Controller
	engine    *fakeEngine
	tree      *dom.Tree
	history   *fakeHistory
	clipboard *fakeClipboard
	notices   <-chan bus.Notification
}

func testOptions() Options {
	return Options{
		Language:       "en-US",
		SilenceTimeout: 5 * time.Second,
		SafetyTimeout:  5 * time.Second,
		ShowPanel:      true,
	}
}

func newHarness(t *testing.T, host string, markup string, opts Options, corrector *correction.Guard) *harness {
	t.Helper()

	var page dom.Page
	var tree *dom.Tree
	if markup != "" {
		parsed, err := dom.ParseHTML(strings.NewReader(markup), dom.ParseOptions{Host: host})
		require.NoError(t, err)
		tree = parsed
		page = parsed
	}
	registry, err := sites.NewRegistry(resolve.NewDefault())
	require.NoError(t, err)

	h := &harness{
		engine:    newFakeEngine(1),
		tree:      tree,
		history:   &fakeHistory{},
		clipboard: &fakeClipboard{},
	}
	b := bus.New()
	notices, unsubscribe := b.Notifications.Subscribe(64)
	t.Cleanup(unsubscribe)
	h.notices = notices

	h.ctrl = NewController(Deps{
		Engine:    h.engine,
		Page:      page,
		Registry:  registry,
		Corrector: corrector,
		History:   h.history,
		Clipboard: h.clipboard,
		Bus:       b,
	}, opts)
	return h
}

func (h *harness) start(ctx context.Context) <-chan Result {
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- h.ctrl.Run(ctx)
	}()
	return resultCh
}

func (h *harness) stream(i int) *fakeStream {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.engine.streams[i]
}

func (h *harness) value(t *testing.T, xpathExpr string) string {
	t.Helper()
	found, err := h.tree.Query(xpathExpr)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	v, err := h.tree.Value(context.Background(), found[0].ID())
	require.NoError(t, err)
	return v
}

// noticeKeys drains notifications published so far.
func (h *harness) noticeKeys() []bus.NoticeKey {
	var keys []bus.NoticeKey
	for {
		select {
		case n := <-h.notices:
			keys = append(keys, n.Key)
		default:
			return keys
		}
	}
}

func waitForState(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", want, ctrl.State())
}

func waitResult(t *testing.T, resultCh <-chan Result) Result {
	t.Helper()
	select {
	case r := <-resultCh:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for session result")
		return Result{}
	}
}
