// Package session holds the observable state shared by every consumer of the
// realtime connection: the connection flag, the ordered log of inbound
// envelopes, the active user notice and the pending out-of-band form.
//
// A Store is an explicitly constructed object with its own lifecycle; it is
// written only by the connection manager and the dispatch router, and read by
// any number of subscribers. Notice and form are last-write-wins, never
// queued.
package session

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/warebridge/warebridge/notice"
	"github.com/warebridge/warebridge/protocol"
)

// Notice is a severity-tagged, translated string shown to the end user.
type Notice struct {
	Severity notice.Severity
	Message  string
}

// Snapshot is an immutable view of the store delivered to subscribers. The
// message slice is shared tail-on: subscribers must treat it as read-only and
// track for themselves which entries they have already acted on.
type Snapshot struct {
	Connected bool
	Messages  []protocol.Inbound
	Notice    *Notice
	Form      json.RawMessage
}

// Store is the single writer-serialized container of session state.
type Store struct {
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	messages  []protocol.Inbound
	notice    *Notice
	form      json.RawMessage
	subs      map[int]func(Snapshot)
	nextSub   int
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Subscribe registers an observer. The current snapshot is delivered
// immediately, then a fresh snapshot after every mutation, until the returned
// function is called.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current state without subscribing.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetConnected mirrors the transport's connection status.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.notifyAndUnlock()
}

// SetNotice overwrites the active user notice.
func (s *Store) SetNotice(severity notice.Severity, message string) {
	s.mu.Lock()
	s.notice = &Notice{Severity: severity, Message: message}
	s.notifyAndUnlock()
}

// ClearNotice removes the active notice, typically after the UI consumed it.
func (s *Store) ClearNotice() {
	s.mu.Lock()
	s.notice = nil
	s.notifyAndUnlock()
}

// SetForm overwrites the pending out-of-band form payload.
func (s *Store) SetForm(form json.RawMessage) {
	s.mu.Lock()
	s.form = form
	s.notifyAndUnlock()
}

// Append adds an inbound envelope to the message log. The log is append-only
// and preserves transport order.
func (s *Store) Append(in protocol.Inbound) {
	s.mu.Lock()
	s.messages = append(s.messages, in)
	s.logger.Debug("envelope logged",
		zap.String("action", in.InboundAction()),
		zap.Int("log_len", len(s.messages)),
	)
	s.notifyAndUnlock()
}

// UpdateResponses applies fn to every response envelope in the log, then
// notifies subscribers once. Used to re-render notice text on locale change.
func (s *Store) UpdateResponses(fn func(*protocol.Response)) {
	s.mu.Lock()
	for _, in := range s.messages {
		if resp, ok := in.(*protocol.Response); ok {
			fn(resp)
		}
	}
	s.notifyAndUnlock()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Connected: s.connected,
		Messages:  s.messages,
		Notice:    s.notice,
		Form:      s.form,
	}
}

// notifyAndUnlock snapshots state, releases the lock and fans the snapshot out.
// Observers run outside the lock so they may call back into the store.
func (s *Store) notifyAndUnlock() {
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
