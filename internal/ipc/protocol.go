// Package ipc carries commands from short-lived voxpage invocations to the
// process that owns the active dictation. Each connection holds exactly one
// newline-terminated JSON request and one response.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Commands understood by the owner process.
const (
	CommandToggle   = "toggle"
	CommandStop     = "stop"
	CommandCancel   = "cancel"
	CommandStatus   = "status"
	CommandLanguage = "language"
)

// maxFrameBytes bounds one request or response line.
const maxFrameBytes = 64 << 10

var errFrameTooLarge = errors.New("frame exceeds size limit")

type Request struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// readFrame reads one line and decodes it into v. Read failures and decode
// failures are reported with distinct prefixes.
func readFrame(r io.Reader, v any, what string) error {
	reader := bufio.NewReader(io.LimitReader(r, maxFrameBytes+1))
	line, err := reader.ReadBytes('\n')
	if len(line) > maxFrameBytes {
		return fmt.Errorf("read %s: %w", what, errFrameTooLarge)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
