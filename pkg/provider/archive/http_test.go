package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artefact.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestUploadSendsMultipartWithFolder(t *testing.T) {
	var gotFolder, gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/files" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFolder = r.FormValue("folder")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		gotName = hdr.Filename
		data, _ := io.ReadAll(f)
		gotContent = string(data)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-7"})
	}))
	defer srv.Close()

	s, err := NewHTTPStore(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	path := writeTempFile(t, `{"hello":"world"}`)
	id, err := s.Upload(context.Background(), path, "rec-1.json", "2025/09-Sep/Transcripts")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "file-7" {
		t.Errorf("id = %q", id)
	}
	if gotFolder != "2025/09-Sep/Transcripts" || gotName != "rec-1.json" {
		t.Errorf("folder = %q, name = %q", gotFolder, gotName)
	}
	if gotContent != `{"hello":"world"}` {
		t.Errorf("content = %q", gotContent)
	}
}

func TestUploadAppliesRootFolder(t *testing.T) {
	var gotFolder string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		gotFolder = r.FormValue("folder")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-1"})
	}))
	defer srv.Close()

	s, _ := NewHTTPStore(srv.URL, "secret", WithRootFolder("CallArchive"))
	path := writeTempFile(t, "x")
	if _, err := s.Upload(context.Background(), path, "a.json", "2025/09-Sep/Metadata"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotFolder != "CallArchive/2025/09-Sep/Metadata" {
		t.Errorf("folder = %q, want CallArchive prefix", gotFolder)
	}
}

func TestMakePublicReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files/file-7/public-link" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id": "file-7", "url": "https://cdn.example.com/file-7?sig=abc",
		})
	}))
	defer srv.Close()

	s, _ := NewHTTPStore(srv.URL, "secret")
	url, err := s.MakePublic(context.Background(), "file-7")
	if err != nil {
		t.Fatalf("MakePublic: %v", err)
	}
	if url != "https://cdn.example.com/file-7?sig=abc" {
		t.Errorf("url = %q", url)
	}
}

func TestDownloadWritesAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files/file-7/content" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	s, _ := NewHTTPStore(srv.URL, "secret")
	dest := filepath.Join(t.TempDir(), "sub", "rec-1.wav")
	if err := s.Download(context.Background(), "file-7", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "audio-bytes" {
		t.Errorf("downloaded = %q, err = %v", data, err)
	}
	// No temp file residue next to the destination.
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("dest dir has %d entries, want 1", len(entries))
	}
}

func TestStatNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, _ := NewHTTPStore(srv.URL, "secret")
	_, err := s.Stat(context.Background(), "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStatReturnsFileInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-7", "name": "rec-1.json", "size": 123})
	}))
	defer srv.Close()

	s, _ := NewHTTPStore(srv.URL, "secret")
	info, err := s.Stat(context.Background(), "file-7")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ID != "file-7" || info.Name != "rec-1.json" || info.Size != 123 {
		t.Errorf("info = %+v", info)
	}
}

func TestFolderForLayout(t *testing.T) {
	ts := time.Date(2025, 9, 21, 0, 0, 0, 0, time.UTC)
	if got := FolderFor(ts, KindTranscripts); got != "2025/09-Sep/Transcripts" {
		t.Errorf("FolderFor = %q", got)
	}
	if got := FolderFor(ts, KindAudio); got != "2025/09-Sep/Audio" {
		t.Errorf("FolderFor = %q", got)
	}
}
