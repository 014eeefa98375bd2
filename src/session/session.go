package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/ikuradondai/erudaite-desktop/src/backend"
)

// ErrSuperseded is reported by Await when a newer attempt replaced the session.
var ErrSuperseded = errors.New("session superseded")

// Status is the lifecycle state of one translation attempt.
type Status int

const (
	StatusRunning Status = iota
	StatusSuperseded
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusSuperseded:
		return "Superseded"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Opener opens a streaming translation toward the backend.
type Opener func(ctx context.Context, text, target string) (<-chan backend.StreamEvent, error)

// Update is a change originating from the currently-active session. RunID is
// repeated so the consumer can re-check freshness at its own mutation point.
type Update struct {
	RunID       uint64
	Target      string
	Translation string
	Status      Status
	Err         string
}

// UpdateFunc receives fresh updates. It must not call back into the Manager.
type UpdateFunc func(Update)

// Manager runs one cancellable streaming translation per attempt and enforces
// freshness via run IDs: only events tagged with the currently-active run ID
// ever reach the UpdateFunc. Superseded streams drain to completion in the
// background and their output is dropped here rather than forcibly aborted.
type Manager struct {
	mu       sync.Mutex
	nextID   uint64
	active   *Session
	open     Opener
	onUpdate UpdateFunc
}

// Session is one translation attempt. All fields are guarded by the owning
// manager's mutex.
type Session struct {
	m      *Manager
	id     uint64
	source string
	target string
	status Status
	text   strings.Builder
	final  string
	err    error
	done   chan struct{}
}

// NewManager creates a session manager. onUpdate may be nil.
func NewManager(open Opener, onUpdate UpdateFunc) *Manager {
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	return &Manager{open: open, onUpdate: onUpdate}
}

// Start begins a new attempt with the next run ID. Any session still Running
// is marked Superseded first; its stream keeps draining but no longer emits.
func (m *Manager) Start(ctx context.Context, sourceText, target string) *Session {
	m.mu.Lock()
	m.nextID++
	if prev := m.active; prev != nil && prev.status == StatusRunning {
		prev.status = StatusSuperseded
		prev.err = ErrSuperseded
		close(prev.done)
		log.Printf("Session: run %d superseded by run %d (target %q)", prev.id, m.nextID, target)
	}
	s := &Session{
		m:      m,
		id:     m.nextID,
		source: sourceText,
		target: target,
		status: StatusRunning,
		done:   make(chan struct{}),
	}
	m.active = s
	m.mu.Unlock()

	log.Printf("Session: run %d started (target %q, %d chars)", s.id, target, len(sourceText))
	go m.consume(ctx, s)
	return s
}

func (m *Manager) consume(ctx context.Context, s *Session) {
	events, err := m.open(ctx, s.source, s.target)
	if err != nil {
		m.fail(s, err.Error())
		return
	}
	for ev := range events {
		switch ev.Type {
		case backend.EventDelta:
			m.applyDelta(s, ev.Content)
		case backend.EventError:
			m.fail(s, ev.Message)
			return
		case backend.EventDone:
			m.complete(s)
			return
		}
	}
	// Channel closed without a terminal event; treat the stream as complete.
	m.complete(s)
}

// applyDelta appends a chunk to the accumulated text and forwards it, but only
// while the chunk's session is still the current one. Stale chunks are dropped
// silently. This gate is what makes re-routing safe under arbitrary latency.
func (m *Manager) applyDelta(s *Session, chunk string) {
	m.mu.Lock()
	if m.active != s || s.status != StatusRunning {
		m.mu.Unlock()
		return
	}
	s.text.WriteString(chunk)
	u := Update{RunID: s.id, Target: s.target, Translation: s.text.String(), Status: StatusRunning}
	m.mu.Unlock()
	m.onUpdate(u)
}

func (m *Manager) fail(s *Session, message string) {
	m.mu.Lock()
	if m.active != s || s.status != StatusRunning {
		m.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.err = errors.New(message)
	close(s.done)
	u := Update{RunID: s.id, Target: s.target, Translation: s.text.String(), Status: StatusFailed, Err: message}
	m.mu.Unlock()
	log.Printf("Session: run %d failed: %s", s.id, message)
	m.onUpdate(u)
}

func (m *Manager) complete(s *Session) {
	m.mu.Lock()
	if m.active != s || s.status != StatusRunning {
		m.mu.Unlock()
		return
	}
	s.status = StatusCompleted
	s.final = s.text.String()
	close(s.done)
	u := Update{RunID: s.id, Target: s.target, Translation: s.final, Status: StatusCompleted}
	m.mu.Unlock()
	log.Printf("Session: run %d completed (%d chars)", s.id, len(u.Translation))
	m.onUpdate(u)
}

// Active returns the most recently started session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// AwaitActive waits for the active attempt to finish, transparently following
// the supersession chain so a re-routed translation is still awaited to its
// real end.
func (m *Manager) AwaitActive(ctx context.Context) (text, target string, err error) {
	for {
		s := m.Active()
		if s == nil {
			return "", "", errors.New("no active session")
		}
		text, err = s.Await(ctx)
		if errors.Is(err, ErrSuperseded) {
			continue
		}
		return text, s.Target(), err
	}
}

// RunID returns the session's run identifier.
func (s *Session) RunID() uint64 { return s.id }

// Target returns the translation target this session streams toward.
func (s *Session) Target() string { return s.target }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.status
}

// Await blocks until the session reaches a terminal state or ctx is done.
// It returns the accumulated text on completion, ErrSuperseded when a newer
// attempt replaced this one, and the stream error on failure.
func (s *Session) Await(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	switch s.status {
	case StatusCompleted:
		return s.final, nil
	case StatusSuperseded:
		return "", ErrSuperseded
	default:
		return "", s.err
	}
}
