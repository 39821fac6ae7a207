// Package browser attaches to a running Chromium tab over the DevTools
// protocol and exposes it as a dom.Page.
package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rbright/voxpage/internal/dom"
)

//go:embed runtime.js
var runtimeJS string

const defaultCallTimeout = 5 * time.Second

// Options configure an attachment.
type Options struct {
	DevToolsURL string
	Tab         string
	Logger      *slog.Logger
	HTTPClient  *http.Client
	CallTimeout time.Duration
}

// Page is a live tab. Writes address elements by the ids handed out in the
// most recent snapshot.
type Page struct {
	tab     TabInfo
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	timeout time.Duration
}

var _ dom.Page = (*Page)(nil)

// Attach connects to the DevTools endpoint and binds the selected tab.
func Attach(ctx context.Context, opts Options) (*Page, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	tabs, err := ListTabs(ctx, opts.HTTPClient, opts.DevToolsURL)
	if err != nil {
		return nil, err
	}
	tab, err := SelectTab(tabs, opts.Tab)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), opts.DevToolsURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(tab.ID)))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	runCtx, runCancel := context.WithTimeout(tabCtx, timeout)
	defer runCancel()
	if err := chromedp.Run(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("attach tab %q: %w", tab.URL, err)
	}

	logger.Info("browser tab attached", "tab_id", tab.ID, "url", tab.URL, "title", tab.Title)
	return &Page{tab: tab, ctx: tabCtx, cancel: cancel, logger: logger, timeout: timeout}, nil
}

// Tab returns the attached tab.
func (p *Page) Tab() TabInfo {
	return p.tab
}

// Close detaches from the tab and leaves it open.
func (p *Page) Close() {
	if p.cancel == nil {
		return
	}
	// chromedp closes the target on cancel unless its id is cleared.
	if c := chromedp.FromContext(p.ctx); c != nil && c.Target != nil {
		c.Target.TargetID = ""
	}
	p.cancel()
}

// Snapshot captures every rendered element with geometry and computed style.
func (p *Page) Snapshot(ctx context.Context) (dom.Document, error) {
	var snap snapshot
	if err := p.eval(ctx, runtimeExpr("snapshot"), &snap); err != nil {
		return nil, fmt.Errorf("snapshot page: %w", err)
	}
	return snap.tree(), nil
}

func (p *Page) Alive(ctx context.Context, id int) bool {
	return p.call(ctx, nil, "alive", id) == nil
}

func (p *Page) Value(ctx context.Context, id int) (string, error) {
	var value string
	err := p.call(ctx, &value, "value", id)
	return value, err
}

func (p *Page) SetValue(ctx context.Context, id int, value string) error {
	return p.call(ctx, nil, "setValue", id, value)
}

func (p *Page) SetText(ctx context.Context, id int, text string) error {
	return p.call(ctx, nil, "setText", id, text)
}

func (p *Page) ExecCommand(ctx context.Context, id int, command string, arg string) error {
	return p.call(ctx, nil, "exec", id, command, arg)
}

func (p *Page) ReplaceChildren(ctx context.Context, id int, fragment dom.Fragment) error {
	return p.call(ctx, nil, "replaceChildren", id, fragment)
}

func (p *Page) Dispatch(ctx context.Context, id int, event dom.EventType) error {
	return p.call(ctx, nil, "dispatch", id, string(event))
}

func (p *Page) Focus(ctx context.Context, id int) error {
	return p.call(ctx, nil, "focus", id)
}

func (p *Page) Click(ctx context.Context, id int) error {
	return p.call(ctx, nil, "click", id)
}

// PressKey focuses id and sends key through the browser's input pipeline,
// so the page sees trusted key events. Keys other than Enter are synthesized
// in the page.
func (p *Page) PressKey(ctx context.Context, id int, key string) error {
	if key != "Enter" {
		return p.call(ctx, nil, "press", id, key)
	}
	if err := p.Focus(ctx, id); err != nil {
		return err
	}

	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey("Enter").
		WithCode("Enter").
		WithText("\r").
		WithWindowsVirtualKeyCode(13)
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey("Enter").
		WithCode("Enter").
		WithWindowsVirtualKeyCode(13)

	runCtx, cancel := p.runContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, down, up); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

// call invokes one runtime method and maps its failure onto dom errors.
func (p *Page) call(ctx context.Context, out any, method string, args ...any) error {
	expr, err := callExpr(method, args...)
	if err != nil {
		return err
	}
	var res callResult
	if err := p.eval(ctx, expr, &res); err != nil {
		return err
	}
	if err := res.err(method); err != nil {
		return err
	}
	if out != nil && len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// eval runs expr in the page and decodes its JSON result into out.
func (p *Page) eval(ctx context.Context, expr string, out any) error {
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	var raw []byte
	err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &raw, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithUserGesture(true)
	}))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode page result: %w", err)
	}
	return nil
}

// runContext bounds an action by the caller's context and the call timeout
// while running it on the tab's context.
func (p *Page) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

type callResult struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Detail string          `json:"detail"`
	Value  json.RawMessage `json:"value"`
}

func (r callResult) err(method string) error {
	if r.OK {
		return nil
	}
	var base error
	switch r.Error {
	case "detached":
		base = dom.ErrDetached
	case "unknown":
		base = dom.ErrUnknownElement
	case "not-editable":
		base = dom.ErrNotEditable
	case "command-failed":
		base = dom.ErrCommandFailed
	default:
		base = errors.New(strings.TrimSpace(r.Error + " " + r.Detail))
	}
	if r.Detail != "" && r.Error != "exception" && r.Error != "" {
		return fmt.Errorf("%s %s: %w", method, r.Detail, base)
	}
	return fmt.Errorf("%s: %w", method, base)
}

type snapshot struct {
	Host     string         `json:"host"`
	Viewport dom.Rect       `json:"viewport"`
	Nodes    []dom.NodeData `json:"nodes"`
}

func (s snapshot) tree() *dom.Tree {
	return dom.Build(dom.ParseOptions{Host: s.Host, Viewport: s.Viewport}, s.Nodes)
}

func runtimeExpr(method string) string {
	return "(" + runtimeJS + ")." + method + "()"
}

func callExpr(method string, args ...any) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encode %s argument: %w", method, err)
		}
		encoded = append(encoded, string(data))
	}
	return "(" + runtimeJS + ")." + method + "(" + strings.Join(encoded, ", ") + ")", nil
}
