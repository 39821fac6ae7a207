package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/voxpage/internal/browser"
	"github.com/rbright/voxpage/internal/cli"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/resolve"
	"github.com/rbright/voxpage/internal/sites"
)

const (
	describeAttrLimit = 40
	historyTextLimit  = 80
)

var describedAttrs = []string{"name", "type", "role", "aria-label", "placeholder", "data-testid"}

func (r Runner) commandTargets(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	doc, closePage, err := r.targetsDocument(ctx, cfg.Browser, parsed, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer closePage()

	if parsed.SavePath != "" {
		if err := saveSnapshot(doc, parsed.SavePath); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(r.Stderr, "saved snapshot to %s\n", parsed.SavePath)
	}

	resolver := resolve.NewDefault()
	registry, err := sites.NewRegistry(resolver)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: load site profiles: %v\n", err)
		return 1
	}

	if err := writeTargets(r.Stdout, doc, registry, resolver); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// targetsDocument reads a saved page, or snapshots the injected or live tab.
func (r Runner) targetsDocument(
	ctx context.Context,
	cfg config.BrowserConfig,
	parsed cli.Parsed,
	logger *slog.Logger,
) (dom.Document, func(), error) {
	noop := func() {}

	if parsed.HTMLPath != "" {
		f, err := os.Open(parsed.HTMLPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open saved page: %w", err)
		}
		defer f.Close()
		tree, err := dom.ParseHTML(f, dom.ParseOptions{Host: parsed.Host})
		if err != nil {
			return nil, noop, err
		}
		return tree, noop, nil
	}

	page := r.Page
	closePage := noop
	if page == nil {
		attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
		defer cancel()
		live, err := browser.Attach(attachCtx, browser.Options{
			DevToolsURL: cfg.DevToolsURL,
			Tab:         cfg.Tab,
			Logger:      logger,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("attach browser: %w", err)
		}
		page, closePage = live, live.Close
	}

	snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	doc, err := page.Snapshot(snapCtx)
	if err != nil {
		closePage()
		return nil, noop, fmt.Errorf("snapshot page: %w", err)
	}
	return doc, closePage, nil
}

func saveSnapshot(doc dom.Document, path string) error {
	renderer, ok := doc.(interface{ Render(io.Writer) error })
	if !ok {
		return errors.New("snapshot cannot be rendered as html")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := renderer.Render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("save snapshot: %w", err)
	}
	return f.Close()
}

func writeTargets(w io.Writer, doc dom.Document, registry *sites.Registry, resolver *resolve.Resolver) error {
	host := doc.Host()
	if host == "" {
		host = "(unknown)"
	}
	fmt.Fprintf(w, "host: %s\n", host)
	fmt.Fprintf(w, "site: %s\n", registry.Classify(doc))

	target, bindErr := registry.Resolve(doc)
	switch {
	case bindErr != nil:
		fmt.Fprintf(w, "bound: none (%v)\n", bindErr)
	default:
		fmt.Fprintf(w, "bound: %s protocol=%s\n", describe(target.Element), target.Protocol)
	}

	inputs, err := resolver.RankInputs(doc)
	if err != nil {
		return fmt.Errorf("rank inputs: %w", err)
	}
	fmt.Fprintf(w, "\ninputs (%d):\n", len(inputs))
	writeRanked(w, inputs)

	if bindErr != nil || target.Element == nil {
		return nil
	}

	submits, err := resolver.RankSubmits(doc, target.Element)
	if err != nil {
		return fmt.Errorf("rank submits: %w", err)
	}
	fmt.Fprintf(w, "\nsubmits (%d):\n", len(submits))
	writeRanked(w, submits)

	if control, err := registry.SubmitFor(doc, target.Element); err == nil {
		fmt.Fprintf(w, "\nsubmit: %s\n", describe(control))
	} else {
		fmt.Fprintf(w, "\nsubmit: none (%v)\n", err)
	}
	return nil
}

func writeRanked(w io.Writer, ranked []resolve.Ranked) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, c := range ranked {
		score := fmt.Sprintf("%5d", c.Score)
		if c.Rejected {
			score = "    -"
		}
		fmt.Fprintf(w, "  %s  %s\n", score, describe(c.Element))
		if len(c.Reasons) > 0 {
			fmt.Fprintf(w, "         %s\n", strings.Join(c.Reasons, ", "))
		}
	}
}

// describe renders el as a short opening tag with its identifying attributes.
func describe(el dom.Element) string {
	if el == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(el.Tag())
	if id := el.Attr("id"); id != "" {
		b.WriteString(" #")
		b.WriteString(id)
	}
	for _, name := range describedAttrs {
		value := strings.TrimSpace(el.Attr(name))
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%q", name, truncate(value, describeAttrLimit))
	}
	if el.Editable() != dom.NotEditable {
		fmt.Fprintf(&b, " editable=%s", el.Editable())
	}
	b.WriteString(">")
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func (r Runner) commandHistory(limit int) int {
	path, err := history.DefaultPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := history.Open(path, 0)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	entries, err := store.List(limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no dictations recorded")
		return 0
	}

	for _, entry := range entries {
		host := entry.Host
		if host == "" {
			host = "-"
		}
		flags := make([]string, 0, 2)
		if entry.Corrected {
			flags = append(flags, "corrected")
		}
		if !entry.Delivered {
			flags = append(flags, "clipboard")
		}
		line := fmt.Sprintf("%s  %s  %s", entry.At.Local().Format("2006-01-02 15:04:05"), host, entry.Language)
		if len(flags) > 0 {
			line += "  [" + strings.Join(flags, ",") + "]"
		}
		fmt.Fprintf(r.Stdout, "%s\n  %s\n", line, truncate(entry.Text, historyTextLimit))
	}
	return 0
}
