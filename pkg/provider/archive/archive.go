// Package archive defines the client interface for the remote archive
// storage service that holds audio, transcripts, and metadata long-term.
//
// Folders follow a year/month layout with one subfolder per artefact kind,
// e.g. "2025/09-Sep/Audio". The service addresses stored files by opaque id.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Kind is the artefact category, which selects the leaf folder.
type Kind string

const (
	KindAudio       Kind = "Audio"
	KindMetadata    Kind = "Metadata"
	KindTranscripts Kind = "Transcripts"
)

// FolderFor returns the archive folder path for an artefact of the given
// kind recorded at t, e.g. "2025/09-Sep/Transcripts".
func FolderFor(t time.Time, kind Kind) string {
	return fmt.Sprintf("%04d/%02d-%s/%s", t.Year(), int(t.Month()), t.Format("Jan"), kind)
}

// FileInfo describes a stored file.
type FileInfo struct {
	ID   string
	Name string
	Size int64
}

// Store is the abstraction over the archive service.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upload stores the local file under folder with the given name and
	// returns the service-assigned file id. Folders are created on demand.
	Upload(ctx context.Context, localPath, name, folder string) (string, error)

	// MakePublic returns a short-lived fetchable URL for the file. Used to
	// hand audio to the ASR service.
	MakePublic(ctx context.Context, fileID string) (string, error)

	// Download copies the stored file to destPath.
	Download(ctx context.Context, fileID, destPath string) error

	// Stat returns metadata for the stored file, or an error when the file
	// does not exist. Deletion verification relies on this.
	Stat(ctx context.Context, fileID string) (*FileInfo, error)
}
