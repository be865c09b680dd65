// Package securestore persists transcript artefacts to the local archive
// tree and the remote archive service, then deletes the original audio file
// with verification. Every outcome, including partial failures, is recorded
// in a tamper-evident audit log.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/archive"
)

// ErrDeletionFailed is returned when the audio file still exists after the
// delete and its retry. It surfaces as a critical alert.
var ErrDeletionFailed = errors.New("securestore: audio deletion failed verification")

// Alerter is the slice of the alert manager the handler needs.
type Alerter interface {
	Critical(ctx context.Context, title, message string)
}

// Handler is the secure storage handler. Safe for concurrent use across
// recordings.
type Handler struct {
	store   *store.Store
	archive archive.Store
	dataDir string
	alerter Alerter
	log     *slog.Logger
}

// NewHandler wires the handler's collaborators. dataDir is the root of the
// local data tree; artefacts are written under its transcriptions/ subtree.
func NewHandler(st *store.Store, arch archive.Store, dataDir string, alerter Alerter, log *slog.Logger) *Handler {
	return &Handler{store: st, archive: arch, dataDir: dataDir, alerter: alerter, log: log}
}

// transcriptDocument is the JSON artefact layout.
type transcriptDocument struct {
	RecordingID string          `json:"recording_id"`
	CallID      string          `json:"call_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	StartTime   string          `json:"start_time"`
	Duration    int             `json:"duration"`
	Direction   store.Direction `json:"direction"`
	From        store.Party     `json:"from"`
	To          store.Party     `json:"to"`
	Language    string          `json:"language"`
	Confidence  float32         `json:"confidence"`
	WordCount   int             `json:"word_count"`
	Text        string          `json:"text"`
	Segments    []store.Segment `json:"segments"`
}

// ProcessTranscription archives the transcript and deletes the recording's
// audio. The order is strict: local artefacts, then remote upload, and only
// when both succeeded, audio deletion with verification. On success the
// recording row carries audio_deleted=true and the remote archive id.
func (h *Handler) ProcessTranscription(ctx context.Context, rec *store.Recording, t *store.Transcript) (archiveID string, err error) {
	jsonPath, mdPath, err := h.writeLocalArtefacts(rec, t)
	if err != nil {
		h.audit(ctx, rec.RecordingID, "local_write", "failure", err.Error())
		return "", err
	}

	transcriptFolder := archive.FolderFor(rec.StartTime, archive.KindTranscripts)
	archiveID, err = h.archive.Upload(ctx, jsonPath, rec.RecordingID+".json", transcriptFolder)
	if err != nil {
		h.audit(ctx, rec.RecordingID, "archive_upload", "failure", err.Error())
		return "", fmt.Errorf("securestore: upload transcript json: %w", err)
	}
	metadataFolder := archive.FolderFor(rec.StartTime, archive.KindMetadata)
	if _, err := h.archive.Upload(ctx, mdPath, rec.RecordingID+".md", metadataFolder); err != nil {
		h.audit(ctx, rec.RecordingID, "archive_upload", "partial",
			"markdown upload failed: "+err.Error())
		return "", fmt.Errorf("securestore: upload transcript markdown: %w", err)
	}
	h.audit(ctx, rec.RecordingID, "archive_upload", "success", "archive_file_id="+archiveID)

	// Trusting the returned id is not enough; confirm the object is really
	// there before the audio is destroyed.
	if _, err := h.archive.Stat(ctx, archiveID); err != nil {
		h.audit(ctx, rec.RecordingID, "archive_verify", "failure", err.Error())
		if h.alerter != nil {
			h.alerter.Critical(ctx, "Archive verification failed",
				fmt.Sprintf("recording %s: uploaded transcript %s not found in archive, audio retained",
					rec.RecordingID, archiveID))
		}
		return "", fmt.Errorf("securestore: verify archived transcript: %w", err)
	}
	h.audit(ctx, rec.RecordingID, "archive_verify", "success", "archive_file_id="+archiveID)

	if err := h.deleteAudioVerified(ctx, rec); err != nil {
		return "", err
	}

	if err := h.store.MarkAudioDeleted(ctx, rec.RecordingID, archiveID); err != nil {
		h.audit(ctx, rec.RecordingID, "audio_delete", "partial",
			"audio removed but row update failed: "+err.Error())
		return "", err
	}
	h.audit(ctx, rec.RecordingID, "audio_delete", "success", "path="+rec.LocalPath)
	h.log.Info("audio securely deleted",
		"recording_id", rec.RecordingID,
		"archive_file_id", archiveID)
	return archiveID, nil
}

// writeLocalArtefacts writes the transcript JSON and Markdown report into
// the dated local archive tree and returns both paths.
func (h *Handler) writeLocalArtefacts(rec *store.Recording, t *store.Transcript) (jsonPath, mdPath string, err error) {
	day := rec.StartTime.UTC()
	datedDir := filepath.Join(
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()))

	jsonPath = filepath.Join(h.dataDir, "transcriptions", "json", datedDir, rec.RecordingID+".json")
	mdPath = filepath.Join(h.dataDir, "transcriptions", "md", datedDir, rec.RecordingID+".md")

	doc := transcriptDocument{
		RecordingID: rec.RecordingID,
		CallID:      rec.CallID,
		SessionID:   rec.SessionID,
		StartTime:   rec.StartTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Duration:    rec.Duration,
		Direction:   rec.Direction,
		From:        rec.From,
		To:          rec.To,
		Language:    t.Language,
		Confidence:  t.Confidence,
		WordCount:   t.WordCount,
		Text:        t.Text,
		Segments:    t.Segments,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("securestore: marshal transcript: %w", err)
	}
	if err := writeFile(jsonPath, payload); err != nil {
		return "", "", err
	}
	if err := writeFile(mdPath, []byte(RenderMarkdown(rec, t))); err != nil {
		return "", "", err
	}
	return jsonPath, mdPath, nil
}

// deleteAudioVerified removes the local audio and verifies it is gone,
// retrying the removal once. A file that survives both attempts raises a
// critical alert and fails the call.
func (h *Handler) deleteAudioVerified(ctx context.Context, rec *store.Recording) error {
	path := rec.LocalPath
	if path == "" {
		return nil
	}

	for attempt := 1; attempt <= 2; attempt++ {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.Warn("audio deletion attempt failed",
				"recording_id", rec.RecordingID, "attempt", attempt, "error", err)
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			if attempt > 1 {
				h.audit(ctx, rec.RecordingID, "audio_delete_retry", "success", "path="+path)
			}
			return nil
		}
	}

	h.audit(ctx, rec.RecordingID, "audio_delete", "failure", "file still present: "+path)
	if h.alerter != nil {
		h.alerter.Critical(ctx, "Audio deletion failed",
			fmt.Sprintf("recording %s: audio file %s still exists after delete and retry",
				rec.RecordingID, path))
	}
	return fmt.Errorf("%w: %s", ErrDeletionFailed, path)
}

// audit appends an audit row, logging instead of failing when the append
// itself errors. The audit log must never block the pipeline.
func (h *Handler) audit(ctx context.Context, recordingID, action, outcome, detail string) {
	if _, err := h.store.AppendAudit(ctx, recordingID, action, outcome, detail); err != nil {
		h.log.Error("audit append failed",
			"recording_id", recordingID, "action", action, "error", err)
	}
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("securestore: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("securestore: write %s: %w", path, err)
	}
	return nil
}
