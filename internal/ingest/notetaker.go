package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/notetaker"
)

// NotetakerClient is the per-employee slice of the notetaker provider.
// *notetaker.Client satisfies it.
type NotetakerClient interface {
	ListMeetings(ctx context.Context, createdAfter time.Time) ([]notetaker.Meeting, error)
	GetTranscript(ctx context.Context, meetingID string) (*notetaker.Transcript, error)
	GetSummary(ctx context.Context, meetingID string) (*notetaker.Summary, error)
	GetActionItems(ctx context.Context, meetingID string) (*notetaker.ActionItems, error)
}

var _ NotetakerClient = (*notetaker.Client)(nil)

// ClientFactory builds a notetaker client for one decrypted API key. Each
// client carries its own per-key rate limiter, so calls for one employee
// are paced independently of the others.
type ClientFactory func(apiKey string) (NotetakerClient, error)

// NotetakerStore is the persistence surface of the notetaker sync.
// *store.Store satisfies it.
type NotetakerStore interface {
	ActiveCredentials(ctx context.Context) ([]store.EmployeeCredential, error)
	SetLastSyncedRecording(ctx context.Context, employeeID, recordingID string) error
	MeetingExists(ctx context.Context, source store.MeetingSource, recordingID string) (bool, error)
	MeetingContentHashExists(ctx context.Context, hash string) (bool, error)
	UpsertMeeting(ctx context.Context, m *store.Meeting) error
	SetMeetingTranscript(ctx context.Context, id int64, text string, missing bool, summary string) error
}

var _ NotetakerStore = (*store.Store)(nil)

// NotetakerSyncResult summarises one sync across all employees.
type NotetakerSyncResult struct {
	Employees int
	Meetings  int
	Missing   int // transcripts the provider 404ed on
	Errors    []string
}

// NotetakerSync pulls meetings for every active employee credential.
// Employees run concurrently; each employee's calls are serialized through
// their client's per-key rate limiter.
type NotetakerSync struct {
	st      NotetakerStore
	cipher  *Cipher
	factory ClientFactory
	window  time.Duration
	log     *slog.Logger
}

// NewNotetakerSync wires the sync. window bounds how far back meetings are
// listed for employees without a sync watermark.
func NewNotetakerSync(st NotetakerStore, cipher *Cipher, factory ClientFactory, window time.Duration, log *slog.Logger) *NotetakerSync {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &NotetakerSync{st: st, cipher: cipher, factory: factory, window: window, log: log}
}

// Sync runs one full pass over all active employees. Per-employee failures
// are collected, not fatal.
func (s *NotetakerSync) Sync(ctx context.Context) (*NotetakerSyncResult, error) {
	creds, err := s.st.ActiveCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: notetaker credentials: %w", err)
	}

	res := &NotetakerSyncResult{Employees: len(creds)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range creds {
		cred := creds[i]
		g.Go(func() error {
			meetings, missing, err := s.syncEmployee(gctx, &cred)
			mu.Lock()
			defer mu.Unlock()
			res.Meetings += meetings
			res.Missing += missing
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", cred.EmployeeID, err))
				s.log.Warn("notetaker employee sync failed",
					"employee", cred.EmployeeID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	s.log.Info("notetaker sync done",
		"employees", res.Employees, "meetings", res.Meetings,
		"missing_transcripts", res.Missing, "errors", len(res.Errors))
	return res, nil
}

// syncEmployee pulls one employee's meetings newer than the sync window.
func (s *NotetakerSync) syncEmployee(ctx context.Context, cred *store.EmployeeCredential) (meetings, missing int, err error) {
	apiKey, err := s.cipher.Decrypt(cred.EncryptedAPIKey)
	if err != nil {
		return 0, 0, fmt.Errorf("decrypt key: %w", err)
	}
	client, err := s.factory(apiKey)
	if err != nil {
		return 0, 0, fmt.Errorf("build client: %w", err)
	}

	listed, err := client.ListMeetings(ctx, time.Now().Add(-s.window))
	if err != nil {
		return 0, 0, fmt.Errorf("list meetings: %w", err)
	}

	for i := range listed {
		nm := &listed[i]
		// The listing is newest-last; stop re-walking below the watermark.
		if cred.LastSyncedRecordingID != "" && nm.ID == cred.LastSyncedRecordingID {
			continue
		}
		exists, err := s.st.MeetingExists(ctx, store.SourceNotetaker, nm.ID)
		if err != nil {
			return meetings, missing, fmt.Errorf("meeting exists: %w", err)
		}
		if exists {
			continue
		}

		hash := contentHash(string(store.SourceNotetaker), nm.HostEmail, nm.Title, nm.StartTime.UnixMilli())
		dupContent, err := s.st.MeetingContentHashExists(ctx, hash)
		if err != nil {
			return meetings, missing, fmt.Errorf("content hash: %w", err)
		}
		if dupContent {
			continue
		}

		wasMissing, err := s.ingestMeeting(ctx, client, nm, hash)
		if err != nil {
			return meetings, missing, err
		}
		meetings++
		if wasMissing {
			missing++
		}
		if err := s.st.SetLastSyncedRecording(ctx, cred.EmployeeID, nm.ID); err != nil {
			return meetings, missing, fmt.Errorf("advance watermark: %w", err)
		}
	}
	return meetings, missing, nil
}

// ingestMeeting fetches the transcript, summary, and action items for one
// meeting and persists the row. A 404 on the transcript endpoint stores an
// empty transcript with the missing flag set.
func (s *NotetakerSync) ingestMeeting(ctx context.Context, client NotetakerClient, nm *notetaker.Meeting, hash string) (missing bool, err error) {
	text := ""
	transcript, err := client.GetTranscript(ctx, nm.ID)
	switch {
	case errors.Is(err, notetaker.ErrNotFound):
		missing = true
	case err != nil:
		return false, fmt.Errorf("transcript %s: %w", nm.ID, err)
	default:
		text = transcript.Text()
	}

	summaryText := ""
	if summary, err := client.GetSummary(ctx, nm.ID); err == nil {
		summaryText = summary.Overview
	} else if !errors.Is(err, notetaker.ErrNotFound) {
		return missing, fmt.Errorf("summary %s: %w", nm.ID, err)
	}

	var items []string
	if ai, err := client.GetActionItems(ctx, nm.ID); err == nil {
		items = ai.Items
	} else if !errors.Is(err, notetaker.ErrNotFound) {
		return missing, fmt.Errorf("action items %s: %w", nm.ID, err)
	}

	end := nm.EndTime
	m := &store.Meeting{
		RecordingID:       nm.ID,
		Source:            store.SourceNotetaker,
		ContentHash:       hash,
		Title:             nm.Title,
		MeetingType:       nm.MeetingType,
		Platform:          nm.Platform,
		HostName:          nm.HostName,
		HostEmail:         nm.HostEmail,
		StartTime:         nm.StartTime,
		Duration:          nm.DurationSec,
		ActionItems:       items,
		HasRecording:      nm.HasRecording,
		TranscriptText:    text,
		TranscriptMissing: missing,
		SummaryText:       summaryText,
	}
	if !end.IsZero() {
		m.EndTime = &end
	}
	for _, p := range nm.Participants {
		m.Participants = append(m.Participants, store.Participant{
			Name:  p.Name,
			Email: p.Email,
		})
	}
	m.ParticipantCount = len(m.Participants)

	if err := s.st.UpsertMeeting(ctx, m); err != nil {
		return missing, fmt.Errorf("upsert meeting %s: %w", nm.ID, err)
	}
	// The upsert leaves transcript columns untouched; they are written
	// separately so a later re-sync cannot reset them.
	if err := s.st.SetMeetingTranscript(ctx, m.ID, text, missing, summaryText); err != nil {
		return missing, fmt.Errorf("set transcript %s: %w", nm.ID, err)
	}
	return missing, nil
}
