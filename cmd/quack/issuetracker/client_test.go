package issuetracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrackerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Project string `json:"project"`
				Name    string `json:"name"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(types.Issue{
				ID:   body.Project + "-1",
				Name: body.Name,
				URL:  "http://" + r.Host + "/browse/" + body.Project + "-1",
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode([]types.Issue{
				{ID: "QA-1", Name: "match for " + r.URL.Query().Get("search") + " in " + r.URL.Query().Get("project")},
			})
		}
	})
	mux.HandleFunc("/api/issues/QA-7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.Issue{ID: "QA-7", Name: "broken login", Status: "open"})
	})
	mux.HandleFunc("/api/issues/QA-500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad issue"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{BaseURI: srv.URL + "/api/", Token: "secret"}, zerolog.Nop())
}

func TestClient_CreateIssue(t *testing.T) {
	c := newTestClient(newTrackerServer(t))

	issue, err := c.CreateIssue(context.Background(), "QA", types.Issue{Name: "crash on save"})
	require.NoError(t, err)
	assert.Equal(t, "QA-1", issue.ID)
	assert.Equal(t, "crash on save", issue.Name)

	_, err = c.CreateIssue(context.Background(), "QA", types.Issue{})
	assert.ErrorIs(t, err, ErrInvalidIssue)
}

func TestClient_GetIssue(t *testing.T) {
	c := newTestClient(newTrackerServer(t))

	issue, err := c.GetIssue(context.Background(), "QA-7")
	require.NoError(t, err)
	assert.Equal(t, types.Issue{ID: "QA-7", Name: "broken login", Status: "open"}, issue)

	_, err = c.GetIssue(context.Background(), "QA-404")
	assert.ErrorIs(t, err, ErrIssueNotFound)

	_, err = c.GetIssue(context.Background(), "QA-500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad issue")

	_, err = c.GetIssue(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidIssue)
}

func TestClient_SuggestIssues(t *testing.T) {
	c := newTestClient(newTrackerServer(t))

	issues, err := c.SuggestIssues(context.Background(), "QA", "login")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "match for login in QA", issues[0].Name)
}

func TestClient_IssueIDFromURL(t *testing.T) {
	c := NewClient(Config{BaseURI: "https://tracker.example.com/api"}, zerolog.Nop())

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "browse url", url: "https://tracker.example.com/browse/QA-12", want: "QA-12"},
		{name: "trailing slash", url: "https://tracker.example.com/browse/QA-12/", want: "QA-12"},
		{name: "foreign host", url: "https://other.example.com/browse/QA-12", wantErr: true},
		{name: "relative", url: "browse/QA-12", wantErr: true},
		{name: "no path", url: "https://tracker.example.com/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.IssueIDFromURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIssue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(types.Issue{ID: "QA-3"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURI: srv.URL, RetryMax: 2}, zerolog.Nop())
	issue, err := c.GetIssue(context.Background(), "QA-3")
	require.NoError(t, err)
	assert.Equal(t, "QA-3", issue.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDisabled(t *testing.T) {
	var tracker Tracker = Disabled{}
	ctx := context.Background()

	_, err := tracker.CreateIssue(ctx, "p", types.Issue{Name: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = tracker.GetIssue(ctx, "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = tracker.IssueIDFromURL("http://x/y")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = tracker.SuggestIssues(ctx, "p", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
