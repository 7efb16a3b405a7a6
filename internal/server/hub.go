package server

import (
	"errors"
	"sync"
	"time"

	"github.com/yoanbernabeu/piprov/internal/provision"
)

// Message is sent to websocket clients
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Operation string `json:"operation,omitempty"`
	Target    string `json:"target,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	Text      string `json:"text,omitempty"`
	Source    string `json:"source,omitempty"`
	Time      string `json:"time,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	LastLine  string `json:"last_line,omitempty"`
	Duration  int64  `json:"duration_ms,omitempty"`
}

const (
	TypeAccepted = "accepted"
	TypeLine     = "line"
	TypeComplete = "complete"
	TypeError    = "error"
)

// ErrDuplicateID is returned by Subscribe when the operation ID already has a subscriber
var ErrDuplicateID = errors.New("operation id already in use")

// Hub is a ProgressSink that routes events to per-operation subscribers
type Hub struct {
	mu   sync.RWMutex
	subs map[string]func(Message)
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]func(Message))}
}

// Subscribe delivers events of operationID to fn until the returned func is called.
// An ID has at most one subscriber; a second Subscribe fails with ErrDuplicateID.
func (h *Hub) Subscribe(operationID string, fn func(Message)) (func(), error) {
	h.mu.Lock()
	if _, taken := h.subs[operationID]; taken {
		h.mu.Unlock()
		return nil, ErrDuplicateID
	}
	h.subs[operationID] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, operationID)
		h.mu.Unlock()
	}, nil
}

func (h *Hub) lookup(operationID string) func(Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subs[operationID]
}

func (h *Hub) OnLine(operationID string, ev provision.ProgressEvent) {
	if fn := h.lookup(operationID); fn != nil {
		fn(lineMessage(operationID, ev))
	}
}

func (h *Hub) OnComplete(operationID string, res provision.Result) {
	if fn := h.lookup(operationID); fn != nil {
		fn(completeMessage(res))
	}
}

func lineMessage(id string, ev provision.ProgressEvent) Message {
	m := Message{
		Type:   TypeLine,
		ID:     id,
		Seq:    ev.Seq,
		Text:   ev.Text,
		Source: string(ev.Source),
	}
	if !ev.Time.IsZero() {
		m.Time = ev.Time.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func completeMessage(res provision.Result) Message {
	m := Message{
		Type:      TypeComplete,
		ID:        res.OperationID,
		Operation: res.Operation,
		Target:    res.Target,
		Status:    res.Status.String(),
		Reason:    res.Reason,
		LastLine:  res.LastLine,
		Duration:  res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		m.Error = res.Err.Error()
	}
	return m
}
