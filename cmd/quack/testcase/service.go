package testcase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greatbit/quack/cmd/quack/issuetracker"
	"github.com/greatbit/quack/cmd/quack/session"
	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("access to project denied")
	ErrValidation = errors.New("validation failed")
)

// Repository persists test cases per project
type Repository interface {
	Find(ctx context.Context, projectID string, filter types.Filter) ([]types.TestCase, error)
	Count(ctx context.Context, projectID string, filter types.Filter) (int, error)
	Get(ctx context.Context, projectID, id string) (*types.TestCase, error)
	Save(ctx context.Context, tc *types.TestCase) error
	Delete(ctx context.Context, projectID, id string) error
}

// AttachmentStore holds the binary data of attachments
type AttachmentStore interface {
	Put(ctx context.Context, projectID, testcaseID, attachmentID string, r io.Reader) (int64, error)
	Open(ctx context.Context, projectID, testcaseID, attachmentID string) (io.ReadCloser, error)
	Delete(ctx context.Context, projectID, testcaseID, attachmentID string) error
	DeleteAll(ctx context.Context, projectID, testcaseID string) error
}

type TestCaseService struct {
	repo        Repository
	attachments AttachmentStore
	tracker     issuetracker.Tracker
	locks       *keyedMutex
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
}

func NewTestCaseService(repo Repository, attachments AttachmentStore, tracker issuetracker.Tracker, log zerolog.Logger) *TestCaseService {
	if tracker == nil {
		tracker = issuetracker.Disabled{}
	}
	return &TestCaseService{
		repo:        repo,
		attachments: attachments,
		tracker:     tracker,
		locks:       newKeyedMutex(),
		log:         log.With().Str("component", "testcase_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func authorize(sess *session.Session, projectID string) error {
	if !sess.CanAccess(projectID) {
		return fmt.Errorf("%w: %s", ErrForbidden, projectID)
	}
	return nil
}

// FindFiltered returns the page of test cases matching the filter, projected
// to the included and excluded fields
func (s *TestCaseService) FindFiltered(ctx context.Context, sess *session.Session, projectID string, filter types.Filter) ([]types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	testCases, err := s.repo.Find(ctx, projectID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find test cases: %w", err)
	}

	for i := range testCases {
		testCases[i].Project(filter.IncludedFields, filter.ExcludedFields)
	}
	return testCases, nil
}

// Count returns the number of test cases matching the filter, ignoring paging
func (s *TestCaseService) Count(ctx context.Context, sess *session.Session, projectID string, filter types.Filter) (int, error) {
	if err := authorize(sess, projectID); err != nil {
		return 0, err
	}

	count, err := s.repo.Count(ctx, projectID, filter.WithoutPaging())
	if err != nil {
		return 0, fmt.Errorf("failed to count test cases: %w", err)
	}
	return count, nil
}

func (s *TestCaseService) FindByID(ctx context.Context, sess *session.Session, projectID, id string) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	return s.get(ctx, projectID, id)
}

func (s *TestCaseService) get(ctx context.Context, projectID, id string) (*types.TestCase, error) {
	tc, err := s.repo.Get(ctx, projectID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read test case %s: %w", id, err)
	}
	if tc == nil {
		return nil, fmt.Errorf("%w: test case %s", ErrNotFound, id)
	}
	return tc, nil
}

// FindFilteredTree groups the matching test cases by the filter's groups
func (s *TestCaseService) FindFilteredTree(ctx context.Context, sess *session.Session, projectID string, filter types.TestcaseFilter) (*types.TestCaseTree, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	testCases, err := s.repo.Find(ctx, projectID, filter.WithoutPaging())
	if err != nil {
		return nil, fmt.Errorf("failed to find test cases: %w", err)
	}

	s.log.Debug().
		Str("project", projectID).
		Strs("groups", filter.Groups).
		Int("testcases", len(testCases)).
		Msg("Building test case tree")

	// grouping reads attributes, so the projection only applies to the leaves
	tree := BuildTree(testCases, filter.Groups)
	ProjectTree(tree, filter.IncludedFields, filter.ExcludedFields)
	return tree, nil
}

// Create stores a new test case; an id is assigned when empty
func (s *TestCaseService) Create(ctx context.Context, sess *session.Session, projectID string, tc types.TestCase) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	if err := validate(&tc); err != nil {
		return nil, err
	}

	if tc.ID == "" {
		tc.ID = s.newID()
	} else {
		existing, err := s.repo.Get(ctx, projectID, tc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read test case %s: %w", tc.ID, err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: test case %s already exists", ErrValidation, tc.ID)
		}
	}

	now := s.now()
	tc.ProjectID = projectID
	tc.CreatedBy = sess.Login
	tc.LastModifiedBy = sess.Login
	tc.CreatedTime = now
	tc.LastModifiedTime = now
	tc.Attachments = nil
	tc.Issues = nil

	if err := s.repo.Save(ctx, &tc); err != nil {
		return nil, fmt.Errorf("failed to create test case: %w", err)
	}

	s.log.Info().Str("project", projectID).Str("id", tc.ID).Str("user", sess.Login).Msg("Created test case")
	return &tc, nil
}

// Update replaces an existing test case. Attachments, issues and creation
// metadata are kept from the stored version.
func (s *TestCaseService) Update(ctx context.Context, sess *session.Session, projectID string, tc types.TestCase) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	if tc.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	if err := validate(&tc); err != nil {
		return nil, err
	}

	var updated *types.TestCase
	err := s.modify(ctx, sess, projectID, tc.ID, func(stored *types.TestCase) error {
		tc.ProjectID = stored.ProjectID
		tc.CreatedBy = stored.CreatedBy
		tc.CreatedTime = stored.CreatedTime
		tc.Attachments = stored.Attachments
		tc.Issues = stored.Issues
		*stored = tc
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a test case together with its attachment data
func (s *TestCaseService) Delete(ctx context.Context, sess *session.Session, projectID, id string) error {
	if err := authorize(sess, projectID); err != nil {
		return err
	}

	unlock := s.locks.Lock(projectID + "/" + id)
	defer unlock()

	if _, err := s.get(ctx, projectID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, projectID, id); err != nil {
		return fmt.Errorf("failed to delete test case %s: %w", id, err)
	}
	if err := s.attachments.DeleteAll(ctx, projectID, id); err != nil {
		// the test case is gone; orphaned data is only logged
		s.log.Error().Err(err).Str("project", projectID).Str("id", id).Msg("Failed to delete attachment data")
	}

	s.log.Info().Str("project", projectID).Str("id", id).Str("user", sess.Login).Msg("Deleted test case")
	return nil
}

// UploadAttachment stores data and registers it on the test case
func (s *TestCaseService) UploadAttachment(ctx context.Context, sess *session.Session, projectID, testcaseID, title string, r io.Reader) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: attachment title is required", ErrValidation)
	}

	var updated *types.TestCase
	var stored string
	err := s.modify(ctx, sess, projectID, testcaseID, func(tc *types.TestCase) error {
		attachmentID := s.newID()
		size, err := s.attachments.Put(ctx, projectID, testcaseID, attachmentID, r)
		if err != nil {
			return fmt.Errorf("failed to store attachment: %w", err)
		}
		stored = attachmentID
		tc.Attachments = append(tc.Attachments, types.Attachment{
			ID:          attachmentID,
			Title:       title,
			CreatedBy:   sess.Login,
			CreatedTime: s.now(),
			DataSize:    size,
		})
		updated = tc
		return nil
	})
	if err != nil {
		if stored != "" {
			s.removeData(ctx, projectID, testcaseID, stored)
		}
		return nil, err
	}
	return updated, nil
}

// removeData deletes attachment data that no test case refers to
func (s *TestCaseService) removeData(ctx context.Context, projectID, testcaseID, attachmentID string) {
	if err := s.attachments.Delete(ctx, projectID, testcaseID, attachmentID); err != nil {
		s.log.Error().
			Err(err).
			Str("project", projectID).
			Str("id", testcaseID).
			Str("attachment", attachmentID).
			Msg("Failed to delete unreferenced attachment data")
	}
}

// GetAttachment returns the attachment metadata
func (s *TestCaseService) GetAttachment(ctx context.Context, sess *session.Session, projectID, testcaseID, attachmentID string) (types.Attachment, error) {
	tc, err := s.FindByID(ctx, sess, projectID, testcaseID)
	if err != nil {
		return types.Attachment{}, err
	}
	attachment, ok := tc.AttachmentByID(attachmentID)
	if !ok {
		return types.Attachment{}, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	return attachment, nil
}

// GetAttachmentStream opens the attachment data; the caller closes it
func (s *TestCaseService) GetAttachmentStream(ctx context.Context, sess *session.Session, projectID, testcaseID string, attachment types.Attachment) (io.ReadCloser, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	stream, err := s.attachments.Open(ctx, projectID, testcaseID, attachment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment %s: %w", attachment.ID, err)
	}
	return stream, nil
}

// DeleteAttachment unregisters an attachment and then removes its data
func (s *TestCaseService) DeleteAttachment(ctx context.Context, sess *session.Session, projectID, testcaseID, attachmentID string) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	var updated *types.TestCase
	err := s.modify(ctx, sess, projectID, testcaseID, func(tc *types.TestCase) error {
		idx := slices.IndexFunc(tc.Attachments, func(a types.Attachment) bool { return a.ID == attachmentID })
		if idx < 0 {
			return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
		}
		tc.Attachments = slices.Delete(tc.Attachments, idx, idx+1)
		updated = tc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.removeData(ctx, projectID, testcaseID, attachmentID)
	return updated, nil
}

// CreateIssue creates an issue in the tracker and links it
func (s *TestCaseService) CreateIssue(ctx context.Context, sess *session.Session, projectID, testcaseID string, issue types.Issue) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, projectID, testcaseID); err != nil {
		return nil, err
	}

	created, err := s.tracker.CreateIssue(ctx, projectID, issue)
	if err != nil {
		return nil, trackerError(err)
	}
	return s.linkIssue(ctx, sess, projectID, testcaseID, created)
}

// LinkIssueByID links an existing tracker issue
func (s *TestCaseService) LinkIssueByID(ctx context.Context, sess *session.Session, projectID, testcaseID, issueID string) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, projectID, testcaseID); err != nil {
		return nil, err
	}

	issue, err := s.tracker.GetIssue(ctx, issueID)
	if err != nil {
		return nil, trackerError(err)
	}
	return s.linkIssue(ctx, sess, projectID, testcaseID, issue)
}

// LinkIssueByURL links the tracker issue a browse url points to
func (s *TestCaseService) LinkIssueByURL(ctx context.Context, sess *session.Session, projectID, testcaseID, issueURL string) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	issueID, err := s.tracker.IssueIDFromURL(issueURL)
	if err != nil {
		return nil, trackerError(err)
	}
	return s.LinkIssueByID(ctx, sess, projectID, testcaseID, issueID)
}

func (s *TestCaseService) linkIssue(ctx context.Context, sess *session.Session, projectID, testcaseID string, issue types.Issue) (*types.TestCase, error) {
	var updated *types.TestCase
	err := s.modify(ctx, sess, projectID, testcaseID, func(tc *types.TestCase) error {
		if !tc.HasIssue(issue.ID) {
			tc.Issues = append(tc.Issues, issue)
		}
		updated = tc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UnlinkIssue removes an issue link; unlinking a missing link is a no-op
func (s *TestCaseService) UnlinkIssue(ctx context.Context, sess *session.Session, projectID, testcaseID, issueID string) (*types.TestCase, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	var updated *types.TestCase
	err := s.modify(ctx, sess, projectID, testcaseID, func(tc *types.TestCase) error {
		tc.Issues = slices.DeleteFunc(tc.Issues, func(i types.Issue) bool { return i.ID == issueID })
		updated = tc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SuggestIssue asks the tracker for issues matching text
func (s *TestCaseService) SuggestIssue(ctx context.Context, sess *session.Session, projectID, text string) ([]types.Issue, error) {
	if err := authorize(sess, projectID); err != nil {
		return nil, err
	}

	issues, err := s.tracker.SuggestIssues(ctx, projectID, text)
	if err != nil {
		return nil, trackerError(err)
	}
	return issues, nil
}

// modify runs a read-modify-write of one test case under its lock
func (s *TestCaseService) modify(ctx context.Context, sess *session.Session, projectID, id string, change func(tc *types.TestCase) error) error {
	unlock := s.locks.Lock(projectID + "/" + id)
	defer unlock()

	tc, err := s.get(ctx, projectID, id)
	if err != nil {
		return err
	}
	if err := change(tc); err != nil {
		return err
	}

	tc.LastModifiedBy = sess.Login
	tc.LastModifiedTime = s.now()
	if err := s.repo.Save(ctx, tc); err != nil {
		return fmt.Errorf("failed to save test case %s: %w", id, err)
	}
	return nil
}

func validate(tc *types.TestCase) error {
	if strings.TrimSpace(tc.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return nil
}

func trackerError(err error) error {
	switch {
	case errors.Is(err, issuetracker.ErrIssueNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, issuetracker.ErrInvalidIssue):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}

// keyedMutex serializes work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
