package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Stat when the file id is unknown to the
// service.
var ErrNotFound = errors.New("archive: file not found")

// Ensure HTTPStore implements the Store interface.
var _ Store = (*HTTPStore)(nil)

// Option is a functional option for HTTPStore.
type Option func(*HTTPStore)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *HTTPStore) {
		s.httpClient = hc
	}
}

// WithRootFolder places all uploads under the given top-level folder.
func WithRootFolder(root string) Option {
	return func(s *HTTPStore) {
		s.rootFolder = root
	}
}

// HTTPStore talks to the archive service over its JSON REST API.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	rootFolder string
	httpClient *http.Client
}

// NewHTTPStore creates an archive client for the given service endpoint.
func NewHTTPStore(baseURL, apiKey string, opts ...Option) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, errors.New("archive: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("archive: apiKey must not be empty")
	}
	s := &HTTPStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Uploads carry whole call recordings; allow slow links.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// fileEnvelope is the service's file representation.
type fileEnvelope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

// Upload implements Store.
func (s *HTTPStore) Upload(ctx context.Context, localPath, name, folder string) (string, error) {
	if s.rootFolder != "" {
		folder = s.rootFolder + "/" + folder
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := mw.WriteField("folder", folder); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/files", pr)
	if err != nil {
		return "", fmt.Errorf("archive: build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("archive: upload %s: unexpected status %d", name, resp.StatusCode)
	}
	var env fileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("archive: decode upload response: %w", err)
	}
	if env.ID == "" {
		return "", errors.New("archive: upload response missing file id")
	}
	return env.ID, nil
}

// MakePublic implements Store.
func (s *HTTPStore) MakePublic(ctx context.Context, fileID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/files/"+fileID+"/public-link", nil)
	if err != nil {
		return "", fmt.Errorf("archive: build public-link request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("archive: make public %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("archive: make public %s: unexpected status %d", fileID, resp.StatusCode)
	}
	var env fileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("archive: decode public-link response: %w", err)
	}
	if env.URL == "" {
		return "", errors.New("archive: public-link response missing url")
	}
	return env.URL, nil
}

// Download implements Store.
func (s *HTTPStore) Download(ctx context.Context, fileID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return fmt.Errorf("archive: build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("archive: download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("archive: download %s: unexpected status %d", fileID, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("archive: create dest dir: %w", err)
	}
	// Write via a temp file so a torn download never leaves a partial file
	// at the destination path.
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: write %s: %w", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("archive: finalize %s: %w", destPath, err)
	}
	return nil
}

// Stat implements Store.
func (s *HTTPStore) Stat(ctx context.Context, fileID string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/files/"+fileID, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: build stat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: stat %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive: stat %s: unexpected status %d", fileID, resp.StatusCode)
	}
	var env fileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("archive: decode stat response: %w", err)
	}
	return &FileInfo{ID: env.ID, Name: env.Name, Size: env.Size}, nil
}
