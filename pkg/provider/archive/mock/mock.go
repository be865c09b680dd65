// Package mock provides an in-memory archive.Store for tests.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/convoscope/convoscope/pkg/provider/archive"
)

// Ensure Store implements the archive.Store interface.
var _ archive.Store = (*Store)(nil)

// Store keeps uploaded files in memory, keyed by generated id.
type Store struct {
	mu     sync.Mutex
	nextID int
	files  map[string]entry

	// UploadErr, when set, is returned by Upload.
	UploadErr error
}

type entry struct {
	name    string
	folder  string
	content []byte
}

// New returns an empty in-memory archive.
func New() *Store {
	return &Store{files: map[string]entry{}}
}

// Upload implements archive.Store.
func (s *Store) Upload(ctx context.Context, localPath, name, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadErr != nil {
		return "", s.UploadErr
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.nextID++
	id := fmt.Sprintf("file-%d", s.nextID)
	s.files[id] = entry{name: name, folder: folder, content: content}
	return id, nil
}

// MakePublic implements archive.Store.
func (s *Store) MakePublic(ctx context.Context, fileID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return "", archive.ErrNotFound
	}
	return "https://mock-archive.invalid/public/" + fileID, nil
}

// Download implements archive.Store.
func (s *Store) Download(ctx context.Context, fileID, destPath string) error {
	s.mu.Lock()
	e, ok := s.files[fileID]
	s.mu.Unlock()
	if !ok {
		return archive.ErrNotFound
	}
	return os.WriteFile(destPath, e.content, 0o644)
}

// Stat implements archive.Store.
func (s *Store) Stat(ctx context.Context, fileID string) (*archive.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[fileID]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return &archive.FileInfo{ID: fileID, Name: e.name, Size: int64(len(e.content))}, nil
}

// Folder returns the folder a stored file was uploaded under. Test helper.
func (s *Store) Folder(fileID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[fileID].folder
}
