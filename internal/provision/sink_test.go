package provision

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/ssh"
)

func TestWriterSink(t *testing.T) {
	tests := []struct {
		name   string
		prefix bool
		want   string
	}{
		{"plain", false, "Mounting ...\n"},
		{"prefixed", true, "[pi@10.0.0.5:22] Mounting ...\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewWriterSink(&buf, tt.prefix)

			sink.OnLine("id", ProgressEvent{Target: "pi@10.0.0.5:22", Text: "Mounting ..."})
			sink.OnComplete("id", Result{})

			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestMultiSink(t *testing.T) {
	var calls []string
	record := func(name string) ProgressSink {
		return SinkFuncs{
			Line:     func(id string, ev ProgressEvent) { calls = append(calls, name+":line:"+ev.Text) },
			Complete: func(id string, res Result) { calls = append(calls, name+":complete") },
		}
	}

	m := MultiSink{record("a"), record("b"), SinkFuncs{}}
	m.OnLine("id", ProgressEvent{Text: "x"})
	m.OnComplete("id", Result{})

	want := "a:line:x,b:line:x,a:complete,b:complete"
	if got := strings.Join(calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestLogSink(t *testing.T) {
	tests := []struct {
		name      string
		res       Result
		wantLevel string
		want      []string
		notWant   []string
	}{
		{
			name:      "success",
			res:       Result{Operation: "update", Status: StatusSuccess},
			wantLevel: `"level":"info"`,
			want:      []string{`"status":"success"`},
		},
		{
			name:      "precondition",
			res:       Result{Operation: "usb", Status: StatusPreconditionNotMet, Reason: "No USB connected"},
			wantLevel: `"level":"warn"`,
			want:      []string{`"reason":"No USB connected"`},
		},
		{
			name:      "failure masks secrets",
			res:       Result{Operation: "cifs", Status: StatusFailure, Err: errors.New("mount error: username=pi,password=hunter2")},
			wantLevel: `"level":"error"`,
			want:      []string{"password=****"},
			notWant:   []string{"hunter2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := LogSink{Logger: zerolog.New(&buf)}

			sink.OnComplete("op-1", tt.res)
			out := buf.String()

			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log %s missing level %s", out, tt.wantLevel)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %s missing %s", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %s contains %s", out, w)
				}
			}
		})
	}
}

func TestLogSink_Lines(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}

	sink.OnLine("op-1", ProgressEvent{Operation: "nfs", Seq: 2, Text: "Mounting network share ...", Source: ssh.Stderr})

	for _, want := range []string{`"seq":2`, `"source":"stderr"`, `"message":"Mounting network share ..."`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log %s missing %s", buf.String(), want)
		}
	}
}
