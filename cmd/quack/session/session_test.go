package session

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CanAccess(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		project string
		want    bool
	}{
		{name: "member", session: &Session{Projects: []string{"p1", "p2"}}, project: "p2", want: true},
		{name: "not a member", session: &Session{Projects: []string{"p1"}}, project: "p2", want: false},
		{name: "admin", session: &Session{IsAdmin: true}, project: "any", want: true},
		{name: "nil session", session: nil, project: "p1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.CanAccess(tt.project))
		})
	}
}

func TestMemoryStore_Lookup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	store.Put(&Session{Token: "live", Login: "alice", ExpiresAt: now.Add(time.Hour)})
	store.Put(&Session{Token: "expired", Login: "bob", ExpiresAt: now.Add(-time.Hour)})
	store.Put(&Session{Token: "forever", Login: "dev"})

	s, err := store.Lookup(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Login)

	// returned sessions are copies
	s.Login = "mallory"
	again, err := store.Lookup(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Login)

	_, err = store.Lookup(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err = store.Lookup(context.Background(), "forever")
	require.NoError(t, err)
	assert.Equal(t, "dev", s.Login)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), &Session{Login: "alice"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", s.Login)
}

func TestSessionRecord_ToSession(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := sessionRecord{
		Token:     "t",
		Login:     "alice",
		IsAdmin:   true,
		Projects:  pq.StringArray{"p1"},
		ExpiresAt: expires,
	}

	s := rec.toSession()
	assert.Equal(t, &Session{Token: "t", Login: "alice", IsAdmin: true, Projects: []string{"p1"}, ExpiresAt: expires}, s)
	assert.Equal(t, "sessions", rec.TableName())
}
