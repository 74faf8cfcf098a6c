package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ErrNotFound is returned when a token does not resolve to a live session
var ErrNotFound = errors.New("session not found")

// Session is an authenticated user session
type Session struct {
	Token     string
	Login     string
	Name      string
	IsAdmin   bool
	Projects  []string // Project ids the user may access
	ExpiresAt time.Time
}

// CanAccess reports whether the session may work with the project
func (s *Session) CanAccess(projectID string) bool {
	if s == nil {
		return false
	}
	return s.IsAdmin || slices.Contains(s.Projects, projectID)
}

// Provider resolves a session token to a session
type Provider interface {
	Lookup(ctx context.Context, token string) (*Session, error)
}

// MemoryStore keeps sessions in memory
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Put registers a session under its token
func (m *MemoryStore) Put(s *Session) {
	m.mu.Lock()
	m.sessions[s.Token] = s
	m.mu.Unlock()
}

// Lookup returns the live session for a token
func (m *MemoryStore) Lookup(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok || (!s.ExpiresAt.IsZero() && m.now().After(s.ExpiresAt)) {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying the session
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx, if any
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
