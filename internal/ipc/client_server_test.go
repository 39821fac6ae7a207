package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRoundTrip(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			require.Equal(t, CommandStatus, req.Command)
			return Response{OK: true, State: "listening", Message: "language en-US"}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "listening", resp.State)
	require.Equal(t, "language en-US", resp.Message)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendDecodeResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true}
		}))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestProbe(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == CommandStatus {
				return Response{OK: true, State: "idle"}
			}
			return Response{OK: false, Error: "bad"}
		}))
	}()

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestSendCarriesArgument(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command != CommandLanguage || req.Arg == "" {
				return Response{OK: false, Error: "language needs a code"}
			}
			return Response{OK: true, Message: "language " + req.Arg}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandLanguage, Arg: "de-DE"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "language de-DE", resp.Message)

	resp, err = Send(context.Background(), socketPath, Request{Command: CommandLanguage}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestServeRejectsOversizedRequest(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handled := make(chan struct{}, 1)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			handled <- struct{}{}
			return Response{OK: true}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandLanguage, Arg: strings.Repeat("x", maxFrameBytes)}, time.Second)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "size limit")
	require.Empty(t, handled)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestServeTimesOutSilentClient(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := &Server{
		Handler:     HandlerFunc(func(context.Context, Request) Response { return Response{OK: true} }),
		ReadTimeout: 50 * time.Millisecond,
	}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx, listener)
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp Response
	require.NoError(t, readFrame(conn, &resp, "response"))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "read request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestUnavailable(t *testing.T) {
	require.False(t, Unavailable(nil))
	require.True(t, Unavailable(os.ErrNotExist))
	require.True(t, Unavailable(syscall.ECONNREFUSED))
	require.True(t, Unavailable(&net.OpError{Op: "dial", Net: "unix", Err: os.NewSyscallError("connect", syscall.ENOENT)}))
	require.False(t, Unavailable(errors.New("other error")))

	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), Request{Command: CommandStatus}, 50*time.Millisecond)
	require.True(t, Unavailable(err))
}
