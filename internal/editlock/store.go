// Package editlock guarantees at most one open edit session per team
// message and remembers the candidate pool captured when it opened.
//
// Locks live for the lifetime of the process only.
package editlock

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("editlock: no session for message")

// Session describes one open edit session.
type Session struct {
	MessageID string
	ChannelID string
	GuildID   string
	EditorID  string
	OpenedAt  time.Time
	Snapshot  []string
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func New() *Store {
	return &Store{sessions: map[string]*Session{}, now: time.Now}
}

// TryAcquire atomically opens a session for messageID with a copy of
// snapshot. It returns false if a session is already open.
func (s *Store) TryAcquire(messageID string, snapshot []string) bool {
	return s.TryAcquireSession(Session{MessageID: messageID, Snapshot: snapshot})
}

// TryAcquireSession is TryAcquire carrying guild and editor for listings.
func (s *Store) TryAcquireSession(sess Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.sessions[sess.MessageID]; held {
		return false
	}
	sess.Snapshot = append([]string(nil), sess.Snapshot...)
	if sess.OpenedAt.IsZero() {
		sess.OpenedAt = s.now()
	}
	s.sessions[sess.MessageID] = &sess
	return true
}

// Release closes the session for messageID. Releasing an unlocked id is a no-op.
func (s *Store) Release(messageID string) {
	s.mu.Lock()
	delete(s.sessions, messageID)
	s.mu.Unlock()
}

// Snapshot returns a copy of the candidate pool captured for messageID.
func (s *Store) Snapshot(messageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), sess.Snapshot...), nil
}

// Session returns the open session for messageID.
func (s *Store) Session(messageID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[messageID]
	if !ok {
		return Session{}, ErrNotFound
	}
	cp := *sess
	cp.Snapshot = append([]string(nil), sess.Snapshot...)
	return cp, nil
}

func (s *Store) Locked(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[messageID]
	return ok
}

// Sessions lists open sessions in guildID ("" lists all), oldest first.
func (s *Store) Sessions(guildID string) []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if guildID != "" && sess.GuildID != guildID {
			continue
		}
		cp := *sess
		cp.Snapshot = append([]string(nil), sess.Snapshot...)
		out = append(out, cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
