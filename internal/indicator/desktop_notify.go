package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// urgency is the freedesktop "urgency" hint.
type urgency byte

const (
	urgencyLow urgency = iota
	urgencyNormal
	urgencyCritical
)

func urgencyOf(level severity) urgency {
	switch level {
	case severityError:
		return urgencyCritical
	case severityInfo:
		return urgencyLow
	default:
		return urgencyNormal
	}
}

// desktopNotification is one Notify call. ReplaceID updates an existing
// bubble in place.
type desktopNotification struct {
	AppName   string
	ReplaceID uint32
	Summary   string
	Body      string
	Urgency   urgency
	TimeoutMS int
}

func (d desktopNotification) args() []string {
	return []string{
		"--user", "call", notifyService, notifyPath, notifyInterface,
		"Notify", "susssasa{sv}i",
		d.AppName,
		strconv.FormatUint(uint64(d.ReplaceID), 10),
		"",
		d.Summary,
		d.Body,
		"0",
		"1", "urgency", "y", strconv.Itoa(int(d.Urgency)),
		strconv.Itoa(d.TimeoutMS),
	}
}

// splitSummary puts the first line of text in the summary and the rest in
// the body.
func splitSummary(text string) (string, string) {
	summary, body, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(summary), strings.TrimSpace(body)
}

// desktopNotify sends a notification through busctl and returns the id the
// server assigned.
func desktopNotify(ctx context.Context, note desktopNotification) (uint32, error) {
	out, err := busctl(ctx, "notify", note.args()...)
	if err != nil {
		return 0, err
	}
	return parseNotifyReply(out)
}

// desktopDismiss closes a notification by id.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := busctl(ctx, "dismiss",
		"--user", "call", notifyService, notifyPath, notifyInterface,
		"CloseNotification", "u", strconv.FormatUint(uint64(id), 10),
	)
	return err
}

func busctl(ctx context.Context, op string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", fmt.Errorf("desktop %s failed: %w", op, err)
		}
		return "", fmt.Errorf("desktop %s failed: %w (%s)", op, err, trimmed)
	}
	return trimmed, nil
}

// parseNotifyReply reads busctl's "u <id>" reply.
func parseNotifyReply(out string) (uint32, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(value), nil
}
