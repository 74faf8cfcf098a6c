package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no data is stored under a key
var ErrNotFound = errors.New("attachment data not found")

// FileStore keeps attachment data on disk under
// <baseDir>/<project>/<testcase>/<attachment>
type FileStore struct {
	baseDir string
	log     zerolog.Logger
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if needed
func NewFileStore(baseDir string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
		log:     log.With().Str("component", "attachment_store").Logger(),
	}, nil
}

func (fs *FileStore) path(projectID, testcaseID, attachmentID string) (string, error) {
	for _, part := range []string{projectID, testcaseID, attachmentID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid storage key part %q", part)
		}
	}
	return filepath.Join(fs.baseDir, projectID, testcaseID, attachmentID), nil
}

// Put stores the data read from r and returns the number of bytes written
func (fs *FileStore) Put(ctx context.Context, projectID, testcaseID, attachmentID string, r io.Reader) (int64, error) {
	target, err := fs.path(projectID, testcaseID, attachmentID)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return 0, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	// Write to a temporary file first so readers never see partial data
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+attachmentID+"-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write attachment data: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to store attachment data: %w", err)
	}

	fs.log.Debug().
		Str("file", target).
		Int64("size", written).
		Msg("Stored attachment data")

	return written, nil
}

// Open returns a reader for stored data; the caller closes it
func (fs *FileStore) Open(ctx context.Context, projectID, testcaseID, attachmentID string) (io.ReadCloser, error) {
	target, err := fs.path(projectID, testcaseID, attachmentID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment data: %w", err)
	}
	return file, nil
}

// Delete removes stored data; removing missing data is not an error
func (fs *FileStore) Delete(ctx context.Context, projectID, testcaseID, attachmentID string) error {
	target, err := fs.path(projectID, testcaseID, attachmentID)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete attachment data: %w", err)
	}
	return nil
}

// DeleteAll removes every attachment stored for a test case
func (fs *FileStore) DeleteAll(ctx context.Context, projectID, testcaseID string) error {
	dir, err := fs.path(projectID, testcaseID, "_")
	if err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Dir(dir)); err != nil {
		return fmt.Errorf("failed to delete attachment directory: %w", err)
	}
	return nil
}

// GetBaseDir returns the root directory of the store
func (fs *FileStore) GetBaseDir() string {
	return fs.baseDir
}

// contextReader stops a copy once the context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
