package ssh

import (
	"bufio"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ExitUnknown is the exit status reported when the remote side never sent one
const ExitUnknown = -1

// stderrSummaryLines is how many trailing stderr lines CommandResult keeps
const stderrSummaryLines = 5

// maxLineSize bounds a single emitted line
const maxLineSize = 1024 * 1024

// Source tells which remote stream a line came from
type Source string

const (
	Stdout Source = "stdout"
	Stderr Source = "stderr"
)

// Line is one line of remote output
type Line struct {
	Text   string
	Source Source
	Time   time.Time
}

// CommandResult describes how a remote command ended
type CommandResult struct {
	ExitStatus    int
	StderrSummary string
	Succeeded     bool
	// Err is a *TransportError when the connection failed before the command exited
	Err      error
	LastLine string
}

// Stream is the lazy output of a running command.
// Lines can be ranged over once; Wait returns the result after the command ends.
type Stream struct {
	lines    chan Line
	done     chan struct{}
	consumed atomic.Bool

	mu       sync.Mutex
	lastLine string
	stderr   []string
	result   CommandResult
}

func newStream() *Stream {
	return &Stream{
		lines: make(chan Line),
		done:  make(chan struct{}),
	}
}

// Lines yields output lines as they arrive. Stdout and stderr lines may
// interleave; order within each source is preserved. A second call yields nothing.
func (s *Stream) Lines() iter.Seq[Line] {
	return func(yield func(Line) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			return
		}
		for line := range s.lines {
			if !yield(line) {
				go drain(s.lines)
				return
			}
		}
	}
}

// Wait blocks until the command has ended and returns its result.
// Output not consumed through Lines is discarded.
func (s *Stream) Wait() CommandResult {
	if s.consumed.CompareAndSwap(false, true) {
		go drain(s.lines)
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func drain(lines <-chan Line) {
	for range lines {
	}
}

// emit delivers one line. Safe for concurrent use by the stdout and stderr readers.
func (s *Stream) emit(text string, source Source) {
	line := Line{Text: text, Source: source, Time: time.Now()}
	s.lines <- line

	s.mu.Lock()
	s.lastLine = text
	if source == Stderr {
		s.stderr = append(s.stderr, text)
		if len(s.stderr) > stderrSummaryLines {
			s.stderr = s.stderr[len(s.stderr)-stderrSummaryLines:]
		}
	}
	s.mu.Unlock()
}

// closeLines ends the line sequence; must be called after every emit has returned
func (s *Stream) closeLines() {
	close(s.lines)
}

// finish records the result and releases Wait
func (s *Stream) finish(exitStatus int, transportErr error) {
	s.mu.Lock()
	res := CommandResult{
		ExitStatus:    exitStatus,
		StderrSummary: strings.Join(s.stderr, "\n"),
		LastLine:      s.lastLine,
	}
	if transportErr != nil {
		res.Err = &TransportError{Err: transportErr}
	}
	switch {
	case res.Err != nil:
		res.Succeeded = false
	case exitStatus != ExitUnknown:
		res.Succeeded = exitStatus == 0
	default:
		res.Succeeded = len(s.stderr) == 0
	}
	s.result = res
	s.mu.Unlock()
	close(s.done)
}

// readLines reads r line by line into the stream. Lines longer than
// maxLineSize are emitted in maxLineSize chunks. The reader is drained to
// the end so the remote side never blocks on a full channel window.
func (s *Stream) readLines(r io.Reader, source Source) {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	split := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			break
		}
		buf = append(buf, chunk...)
		for len(buf) >= maxLineSize {
			s.emit(string(buf[:maxLineSize]), source)
			buf = append(buf[:0], buf[maxLineSize:]...)
			split = true
		}
		if isPrefix {
			continue
		}
		if len(buf) > 0 || !split {
			s.emit(strings.TrimRight(string(buf), "\r"), source)
		}
		buf = buf[:0]
		split = false
	}
	if len(buf) > 0 {
		s.emit(strings.TrimRight(string(buf), "\r"), source)
	}
	_, _ = io.Copy(io.Discard, br)
}

// NewStaticStream returns a completed stream that yields lines then result.
// Used by test doubles and callers that already hold the full output.
func NewStaticStream(lines []Line, exitStatus int, transportErr error) *Stream {
	s := newStream()
	go func() {
		for _, l := range lines {
			s.emit(l.Text, sourceOrStdout(l.Source))
		}
		s.closeLines()
		s.finish(exitStatus, transportErr)
	}()
	return s
}

func sourceOrStdout(src Source) Source {
	if src == "" {
		return Stdout
	}
	return src
}
