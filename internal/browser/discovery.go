package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoTab indicates no page target matched the requested tab.
var ErrNoTab = errors.New("no matching browser tab")

// TabInfo is one entry of the DevTools /json/list endpoint.
type TabInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListTabs fetches the DevTools target list.
func ListTabs(ctx context.Context, client *http.Client, devtoolsURL string) ([]TabInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint, err := listURL(devtoolsURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build devtools request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list devtools targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list devtools targets: unexpected status %s", resp.Status)
	}

	var tabs []TabInfo
	if err := json.NewDecoder(resp.Body).Decode(&tabs); err != nil {
		return nil, fmt.Errorf("decode devtools targets: %w", err)
	}
	return tabs, nil
}

// SelectTab returns the first page whose URL contains match, or the first
// page when match is empty.
func SelectTab(tabs []TabInfo, match string) (TabInfo, error) {
	match = strings.ToLower(strings.TrimSpace(match))
	for _, tab := range tabs {
		if tab.Type != "page" || strings.HasPrefix(tab.URL, "devtools://") {
			continue
		}
		if match == "" || strings.Contains(strings.ToLower(tab.URL), match) {
			return tab, nil
		}
	}
	if match == "" {
		return TabInfo{}, ErrNoTab
	}
	return TabInfo{}, fmt.Errorf("%w: %q", ErrNoTab, match)
}

func listURL(devtoolsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(devtoolsURL))
	if err != nil {
		return "", fmt.Errorf("parse devtools url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("devtools url must be http or https: %q", devtoolsURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/json/list"
	u.RawQuery = ""
	return u.String(), nil
}
