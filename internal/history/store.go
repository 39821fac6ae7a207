// Package history records committed dictations as append-only JSON lines and
// keeps the most recent corrected turns per host for correction context.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/correction"
)

const (
	hostCacheSize = 64
	maxLineBytes  = 1 << 20
)

// ErrEntryTooLarge rejects an entry whose encoded line exceeds the line limit.
var ErrEntryTooLarge = errors.New("history: entry too large")

// Entry is one committed dictation.
type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Host      string    `json:"host,omitempty"`
	Site      string    `json:"site,omitempty"`
	Language  string    `json:"language,omitempty"`
	Raw       string    `json:"raw"`
	Text      string    `json:"text"`
	Corrected bool      `json:"corrected"`
	Delivered bool      `json:"delivered"`
}

// Store appends entries to a JSONL file. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	turns int
	hosts *lru.Cache[string, []correction.Turn]
}

// DefaultPath returns history.jsonl under the state directory.
func DefaultPath() (string, error) {
	dir, err := config.StateDir()
	if err != nil {
		return "", fmt.Errorf("history: %w", err)
	}
	return filepath.Join(dir, "history.jsonl"), nil
}

// Open prepares a store at path, keeping up to turns corrected entries per
// host. Existing entries seed the per-host turns.
func Open(path string, turns int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history: path is required")
	}
	if turns < 0 {
		turns = 0
	}
	hosts, err := lru.New[string, []correction.Turn](hostCacheSize)
	if err != nil {
		return nil, fmt.Errorf("history: host cache: %w", err)
	}
	s := &Store{path: path, turns: turns, hosts: hosts}

	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		s.remember(entry)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Append assigns an ID and timestamp when missing and writes entry.
func (s *Store) Append(entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')
	if len(data) > maxLineBytes {
		return entry, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return entry, fmt.Errorf("history: create dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return entry, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return entry, fmt.Errorf("history: write: %w", err)
	}
	s.remember(entry)
	return entry, nil
}

// PriorTurns returns the most recent corrected turns for host, oldest first.
func (s *Store) PriorTurns(host string) []correction.Turn {
	turns, ok := s.hosts.Get(normalizeHost(host))
	if !ok {
		return nil
	}
	return append([]correction.Turn(nil), turns...)
}

// List returns up to limit entries, newest first. A non-positive limit
// returns every entry.
func (s *Store) List(limit int) ([]Entry, error) {
	s.mu.Lock()
	entries, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) remember(entry Entry) {
	if s.turns == 0 || !entry.Corrected || entry.Raw == "" || entry.Text == "" {
		return
	}
	host := normalizeHost(entry.Host)
	turns, _ := s.hosts.Get(host)
	turns = append(append([]correction.Turn(nil), turns...), correction.Turn{Input: entry.Raw, Output: entry.Text})
	if len(turns) > s.turns {
		turns = turns[len(turns)-s.turns:]
	}
	s.hosts.Add(host, turns)
}

func (s *Store) readAll() ([]Entry, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()
	return decode(f)
}

// decode reads JSON lines, skipping lines that do not parse or exceed
// maxLineBytes.
func decode(r io.Reader) ([]Entry, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var entries []Entry
	for {
		line, tooLong, err := readLine(br)
		if !tooLong {
			if entry, ok := parseEntry(line); ok {
				entries = append(entries, entry)
			}
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("history: read: %w", err)
		}
	}
}

// readLine returns the next line. An over-long line is consumed in full and
// reported with tooLong set and no content.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, readErr := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, readErr
	}
}

func parseEntry(line []byte) (Entry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(line, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
