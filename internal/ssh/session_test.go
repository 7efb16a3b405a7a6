package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/yoanbernabeu/piprov/internal/script"
)

func scriptedHandler(command string, stdout, stderr io.Writer) int {
	switch command {
	case "three":
		fmt.Fprint(stdout, "a\nb\r\nc\n")
		return 0
	case "fail":
		fmt.Fprintln(stdout, "starting")
		fmt.Fprintln(stderr, "mkfs: cannot open /dev/sda1")
		return 3
	case "drop":
		fmt.Fprintln(stdout, "a")
		return exitDrop
	default:
		return 127
	}
}

func openSession(t *testing.T, srv *testServer) Session {
	t.Helper()
	session, err := srv.trustedManager().Open(context.Background(), srv.target())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func collect(stream *Stream) []Line {
	var lines []Line
	for line := range stream.Lines() {
		lines = append(lines, line)
	}
	return lines
}

func TestRun_StreamsLinesInOrder(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	stream, err := session.Run(context.Background(), script.Raw("three", "three"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lines := collect(stream)
	got := make([]string, len(lines))
	for i, l := range lines {
		got[i] = l.Text
		if l.Source != Stdout {
			t.Errorf("line %d: Source = %s, want stdout", i, l.Source)
		}
		if l.Time.IsZero() {
			t.Errorf("line %d: missing timestamp", i)
		}
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("lines = %v, want [a b c]", got)
	}

	res := stream.Wait()
	if !res.Succeeded || res.ExitStatus != 0 || res.Err != nil {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.LastLine != "c" {
		t.Errorf("LastLine = %q, want c", res.LastLine)
	}
	if session.State() != StateConnected {
		t.Errorf("State = %s, want connected", session.State())
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	stream, err := session.Run(context.Background(), script.Raw("fail", "fail"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var stderrLines []string
	for line := range stream.Lines() {
		if line.Source == Stderr {
			stderrLines = append(stderrLines, line.Text)
		}
	}
	if len(stderrLines) != 1 {
		t.Errorf("expected 1 stderr line, got %v", stderrLines)
	}

	res := stream.Wait()
	if res.Succeeded {
		t.Error("expected failure")
	}
	if res.ExitStatus != 3 {
		t.Errorf("ExitStatus = %d, want 3", res.ExitStatus)
	}
	if res.Err != nil {
		t.Errorf("a clean non-zero exit is not a transport error: %v", res.Err)
	}
	if res.StderrSummary != "mkfs: cannot open /dev/sda1" {
		t.Errorf("StderrSummary = %q", res.StderrSummary)
	}
}

func TestRun_TransportDropMidStream(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	stream, err := session.Run(context.Background(), script.Raw("drop", "drop"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lines := collect(stream)
	res := stream.Wait()

	if len(lines) > 1 {
		t.Errorf("expected at most the line sent before the drop, got %v", lines)
	}
	var transportErr *TransportError
	if !errors.As(res.Err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", res.Err)
	}
	if res.Succeeded {
		t.Error("expected failure")
	}
	if res.ExitStatus != ExitUnknown {
		t.Errorf("ExitStatus = %d, want %d", res.ExitStatus, ExitUnknown)
	}
	if session.State() != StateFailed {
		t.Errorf("State = %s, want failed", session.State())
	}

	session.Close()
	if session.State() != StateClosed {
		t.Errorf("State after Close = %s, want closed", session.State())
	}
	if _, err := session.Run(context.Background(), script.Raw("echo", "echo")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestRun_Cancellation(t *testing.T) {
	var srv *testServer
	srv = startTestServer(t, func(command string, stdout, stderr io.Writer) int {
		fmt.Fprintln(stdout, "started")
		srv.block()
		return 0
	})
	session := openSession(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := session.Run(ctx, script.Raw("sleep", "sleep 600"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for line := range stream.Lines() {
		if line.Text == "started" {
			cancel()
		}
	}

	res := stream.Wait()
	var transportErr *TransportError
	if !errors.As(res.Err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", res.Err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", res.Err)
	}
	if res.LastLine != "started" {
		t.Errorf("LastLine = %q, want started", res.LastLine)
	}
}

func TestRun_OneCommandAtATime(t *testing.T) {
	var srv *testServer
	srv = startTestServer(t, func(command string, stdout, stderr io.Writer) int {
		srv.block()
		return 0
	})
	session := openSession(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := session.Run(ctx, script.Raw("sleep", "sleep 600"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := session.Run(context.Background(), script.Raw("uname", "uname -s")); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}

	cancel()
	stream.Wait()
}

func TestRun_SequentialCommands(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	for i := 0; i < 2; i++ {
		stream, err := session.Run(context.Background(), script.Raw("three", "three"))
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		if res := stream.Wait(); !res.Succeeded {
			t.Errorf("Run() #%d result = %+v", i, res)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	if err := session.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("State = %s, want closed", session.State())
	}
	if _, err := session.Run(context.Background(), script.Raw("three", "three")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	srv := startTestServer(t, scriptedHandler)
	session := openSession(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Run(ctx, script.Raw("three", "three"))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected TransportError wrapping context.Canceled, got %v", err)
	}
	if session.State() != StateConnected {
		t.Errorf("State = %s, want connected", session.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosed, "closed"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
