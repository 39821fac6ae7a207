// Package hypr wraps the hyprctl calls used for notifications and
// environment checks.
package hypr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
)

// Icon is a hyprctl notify icon id.
type Icon int

const (
	IconWarning Icon = 0
	IconInfo    Icon = 1
	IconHint    Icon = 2
	IconError   Icon = 3
)

const defaultColor = "rgb(89b4fa)"

// Notification is one `hyprctl dispatch notify` call.
type Notification struct {
	Icon      Icon
	TimeoutMS int
	// Color is a hyprland color such as rgb(89b4fa); empty uses blue.
	Color string
	Text  string
}

func (n Notification) args() []string {
	color := strings.TrimSpace(n.Color)
	if color == "" {
		color = defaultColor
	}
	return []string{
		"--quiet", "dispatch", "notify",
		strconv.Itoa(int(n.Icon)),
		strconv.Itoa(max(n.TimeoutMS, 0)),
		color,
		n.Text,
	}
}

// Notify shows n on the compositor's notification overlay.
func Notify(ctx context.Context, n Notification) error {
	_, err := hyprctl(ctx, n.args()...)
	return err
}

// DismissNotify dismisses all overlay notifications.
func DismissNotify(ctx context.Context) error {
	_, err := hyprctl(ctx, "--quiet", "dispatch", "dismissnotify")
	return err
}

// ActiveWindow identifies the focused client.
type ActiveWindow struct {
	Address      string `json:"address"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
	Title        string `json:"title"`
}

var browserClasses = []string{"chromium", "chrome", "brave", "vivaldi", "edge", "opera", "thorium"}

// IsBrowser reports whether the window belongs to a Chromium-family browser.
func (w ActiveWindow) IsBrowser() bool {
	return slices.ContainsFunc([]string{w.Class, w.InitialClass}, func(class string) bool {
		class = strings.ToLower(class)
		return slices.ContainsFunc(browserClasses, func(known string) bool {
			return strings.Contains(class, known)
		})
	})
}

// QueryActiveWindow asks hyprctl for the focused client.
func QueryActiveWindow(ctx context.Context) (ActiveWindow, error) {
	out, err := hyprctl(ctx, "-j", "activewindow")
	if err != nil {
		return ActiveWindow{}, err
	}

	var w ActiveWindow
	if err := json.Unmarshal(out, &w); err != nil {
		return ActiveWindow{}, fmt.Errorf("decode hyprctl activewindow: %w", err)
	}
	for _, field := range []*string{&w.Address, &w.Class, &w.InitialClass, &w.Title} {
		*field = strings.TrimSpace(*field)
	}
	if w.Address == "" {
		return ActiveWindow{}, errors.New("hyprctl activewindow returned empty address")
	}
	return w, nil
}

func hyprctl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "hyprctl", args...).CombinedOutput()
	if err == nil {
		return out, nil
	}
	op := strings.Join(args[:min(len(args), 3)], " ")
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return nil, fmt.Errorf("hyprctl %s: %w (%s)", op, err, msg)
	}
	return nil, fmt.Errorf("hyprctl %s: %w", op, err)
}
