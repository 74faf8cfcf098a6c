package issuetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured is returned by Disabled for every operation
	ErrNotConfigured = errors.New("issue tracker is not configured")
	// ErrIssueNotFound is returned when the tracker has no such issue
	ErrIssueNotFound = errors.New("issue not found in tracker")
	// ErrInvalidIssue is returned for issue ids or urls the tracker cannot resolve
	ErrInvalidIssue = errors.New("invalid issue reference")
)

// Tracker is an external issue tracker
type Tracker interface {
	CreateIssue(ctx context.Context, projectID string, issue types.Issue) (types.Issue, error)
	GetIssue(ctx context.Context, issueID string) (types.Issue, error)
	IssueIDFromURL(issueURL string) (string, error)
	SuggestIssues(ctx context.Context, projectID, text string) ([]types.Issue, error)
}

// Config holds the connection settings of a tracker Client
type Config struct {
	BaseURI  string
	Token    string
	Timeout  time.Duration
	RetryMax int
}

// Client talks to a JSON REST issue tracker exposing
// POST /issues, GET /issues/{id} and GET /issues?project=&search=
type Client struct {
	BaseURI    string
	HTTPClient *http.Client
	token      string
	log        zerolog.Logger
}

type errorResponse struct {
	Message string `json:"message"`
}

// NewClient creates a Client with retrying transport
func NewClient(config Config, log zerolog.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.RetryMax
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Timeout: config.Timeout,
	}

	return &Client{
		BaseURI:    strings.TrimRight(config.BaseURI, "/"),
		HTTPClient: retryClient.StandardClient(),
		token:      config.Token,
		log:        log.With().Str("component", "issue_tracker").Logger(),
	}
}

// CreateIssue creates a new issue in the tracker
func (c *Client) CreateIssue(ctx context.Context, projectID string, issue types.Issue) (types.Issue, error) {
	if strings.TrimSpace(issue.Name) == "" {
		return types.Issue{}, fmt.Errorf("%w: issue name is required", ErrInvalidIssue)
	}

	body := struct {
		Project string `json:"project"`
		types.Issue
	}{Project: projectID, Issue: issue}

	var created types.Issue
	if err := c.do(ctx, http.MethodPost, "/issues", nil, body, &created); err != nil {
		return types.Issue{}, err
	}
	return created, nil
}

// GetIssue fetches an issue by id
func (c *Client) GetIssue(ctx context.Context, issueID string) (types.Issue, error) {
	if issueID == "" {
		return types.Issue{}, fmt.Errorf("%w: empty issue id", ErrInvalidIssue)
	}

	var issue types.Issue
	if err := c.do(ctx, http.MethodGet, "/issues/"+url.PathEscape(issueID), nil, nil, &issue); err != nil {
		return types.Issue{}, err
	}
	return issue, nil
}

// IssueIDFromURL extracts the issue id from a browse url of this tracker,
// which is the last path segment (e.g. https://tracker/browse/QA-12 -> QA-12)
func (c *Client) IssueIDFromURL(issueURL string) (string, error) {
	u, err := url.Parse(issueURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute url", ErrInvalidIssue, issueURL)
	}

	if base, err := url.Parse(c.BaseURI); err == nil && base.Host != "" && !strings.EqualFold(base.Host, u.Host) {
		return "", fmt.Errorf("%w: %q does not belong to %s", ErrInvalidIssue, issueURL, base.Host)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := segments[len(segments)-1]
	if id == "" {
		return "", fmt.Errorf("%w: no issue id in %q", ErrInvalidIssue, issueURL)
	}
	return id, nil
}

// SuggestIssues searches the tracker for issues matching text
func (c *Client) SuggestIssues(ctx context.Context, projectID, text string) ([]types.Issue, error) {
	query := url.Values{}
	query.Set("search", text)
	if projectID != "" {
		query.Set("project", projectID)
	}

	issues := make([]types.Issue, 0)
	if err := c.do(ctx, http.MethodGet, "/issues", query, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// HTTP helper methods
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, response any) error {
	req, err := c.prepareRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	c.signRequest(req)
	return c.sendRequest(req, response)
}

func (c *Client) prepareRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	uri, err := url.JoinPath(c.BaseURI, endpoint)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	return req, nil
}

func (c *Client) signRequest(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) sendRequest(req *http.Request, response any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Msg("Tracker response")

	if resp.StatusCode == http.StatusNotFound {
		return ErrIssueNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Message != "" {
			return fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if response != nil {
		if len(bodyBytes) == 0 {
			return fmt.Errorf("received empty response from tracker for URL: %s", req.URL.String())
		}
		if err := json.Unmarshal(bodyBytes, response); err != nil {
			return fmt.Errorf("failed to parse tracker response: %w", err)
		}
	}

	return nil
}

// Disabled is the Tracker used when no tracker is configured
type Disabled struct{}

func (Disabled) CreateIssue(context.Context, string, types.Issue) (types.Issue, error) {
	return types.Issue{}, ErrNotConfigured
}

func (Disabled) GetIssue(context.Context, string) (types.Issue, error) {
	return types.Issue{}, ErrNotConfigured
}

func (Disabled) IssueIDFromURL(string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) SuggestIssues(context.Context, string, string) ([]types.Issue, error) {
	return nil, ErrNotConfigured
}
