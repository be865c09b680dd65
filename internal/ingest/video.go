package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/internal/transcribe"
	"github.com/convoscope/convoscope/pkg/provider/telephony"
)

// VideoClient is the video slice of the telephony provider.
type VideoClient interface {
	VideoMeetings(ctx context.Context, from, to time.Time, pageToken string) (*telephony.MeetingsPage, error)
	VideoRecording(ctx context.Context, id string) (*telephony.VideoRecording, error)
	AccountRecordings(ctx context.Context, from, to time.Time, pageToken string) (*telephony.RecordingsPage, error)
	Extensions(ctx context.Context, page int) (*telephony.ExtensionsPage, error)
}

// VideoStore persists meetings and their recordings. *store.Store satisfies
// it.
type VideoStore interface {
	RecordingStore
	UpsertMeeting(ctx context.Context, m *store.Meeting) error
	MeetingExists(ctx context.Context, source store.MeetingSource, recordingID string) (bool, error)
}

var _ VideoStore = (*store.Store)(nil)

// DirectorySink receives the canonical participant names of the extension
// directory once per sync. *transcribe.Orchestrator satisfies it and uses
// the names to repair ASR-garbled speaker names.
type DirectorySink interface {
	SetDirectory(names []string)
}

var _ DirectorySink = (*transcribe.Orchestrator)(nil)

// VideoAdapter discovers video meetings with recordings, enriches their
// participants from the extension directory, and queues both a meeting row
// and a pending recording row per recorded meeting.
type VideoAdapter struct {
	client          VideoClient
	st              VideoStore
	dedup           *Deduper
	cache           *IDCache
	internalDomains []string
	directory       DirectorySink // optional
	log             *slog.Logger
}

// NewVideoAdapter wires the video-meeting adapter. internalDomains flags
// participants as internal by email domain.
func NewVideoAdapter(client VideoClient, st VideoStore, dedup *Deduper, cache *IDCache, internalDomains []string, log *slog.Logger) *VideoAdapter {
	if log == nil {
		log = slog.Default()
	}
	lowered := make([]string, len(internalDomains))
	for i, d := range internalDomains {
		lowered[i] = strings.ToLower(strings.TrimPrefix(d, "@"))
	}
	return &VideoAdapter{
		client:          client,
		st:              st,
		dedup:           dedup,
		cache:           cache,
		internalDomains: lowered,
		log:             log,
	}
}

// SetDirectorySink registers the consumer of the extension directory's
// participant names. They are pushed once per sync, after the directory
// cache loads.
func (a *VideoAdapter) SetDirectorySink(sink DirectorySink) { a.directory = sink }

// SyncDay enumerates one day's meeting history. When the history comes
// back empty it falls back to the account-level recording listing and
// synthesises meeting rows from it.
func (a *VideoAdapter) SyncDay(ctx context.Context, day time.Time) (int, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	exts, err := a.loadExtensions(ctx)
	if err != nil {
		// Enrichment is best-effort; a directory outage must not block
		// discovery.
		a.log.Warn("extension directory unavailable", "error", err)
		exts = map[string]telephony.Extension{}
	}
	if a.directory != nil && len(exts) > 0 {
		a.directory.SetDirectory(directoryNames(exts))
	}

	queued, sawMeetings := 0, false
	for token := ""; ; {
		page, err := a.client.VideoMeetings(ctx, from, to, token)
		if err != nil {
			return queued, fmt.Errorf("ingest: video meetings: %w", err)
		}
		for i := range page.Meetings {
			sawMeetings = true
			n, err := a.queueMeeting(ctx, &page.Meetings[i], exts)
			if err != nil {
				return queued, err
			}
			queued += n
		}
		if page.Paging.PageToken == "" {
			break
		}
		token = page.Paging.PageToken
		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return queued, ctx.Err()
		}
	}

	if !sawMeetings {
		n, err := a.syncAccountRecordings(ctx, from, to, exts)
		queued += n
		if err != nil {
			return queued, err
		}
	}
	a.log.Info("video sync done", "day", from.Format("2006-01-02"), "queued", queued)
	return queued, nil
}

// queueMeeting persists one meeting and a pending recording row per
// attached recording.
func (a *VideoAdapter) queueMeeting(ctx context.Context, vm *telephony.VideoMeeting, exts map[string]telephony.Extension) (int, error) {
	if len(vm.Recordings) == 0 {
		return 0, nil
	}
	queued := 0
	for i := range vm.Recordings {
		ref := &vm.Recordings[i]
		exists, err := a.st.MeetingExists(ctx, store.SourceTelephonyVideo, ref.ID)
		if err != nil {
			return queued, fmt.Errorf("ingest: meeting exists: %w", err)
		}
		if exists {
			continue
		}

		vr, err := a.client.VideoRecording(ctx, ref.ID)
		if err != nil {
			return queued, fmt.Errorf("ingest: video recording %s: %w", ref.ID, err)
		}

		meeting := a.buildMeeting(vm, vr, exts)
		if err := a.st.UpsertMeeting(ctx, meeting); err != nil {
			return queued, fmt.Errorf("ingest: upsert meeting: %w", err)
		}

		n, err := a.queueVideoRecording(ctx, vr, meeting)
		if err != nil {
			return queued, err
		}
		queued += n
	}
	return queued, nil
}

// queueVideoRecording adds the pending recording row driving the media
// pipeline for one video recording.
func (a *VideoAdapter) queueVideoRecording(ctx context.Context, vr *telephony.VideoRecording, meeting *store.Meeting) (int, error) {
	cand := Candidate{RecordingID: vr.ID, StartTime: meeting.StartTime}
	dup, reason, err := a.dedup.IsDuplicate(ctx, cand)
	if err != nil {
		return 0, err
	}
	if dup {
		a.log.Debug("skipping duplicate video recording", "recording", vr.ID, "reason", reason)
		return 0, nil
	}

	uri := vr.MediaLink
	if uri == "" {
		uri = vr.DownloadURI
	}
	row := &store.Recording{
		RecordingID:   vr.ID,
		SessionID:     vr.MeetingID,
		StartTime:     meeting.StartTime,
		Duration:      vr.Duration,
		Direction:     store.DirectionInternal,
		From:          store.Party{Name: meeting.HostName, Extension: meeting.HostExtension},
		RecordingType: "automatic",
		MediaURI:      uri,
		MediaKind:     "video",
	}
	inserted, err := a.st.InsertRecording(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("ingest: queue video recording %s: %w", vr.ID, err)
	}
	if !inserted {
		return 0, nil
	}
	if a.cache != nil {
		a.cache.Add(vr.ID)
	}
	return 1, nil
}

// buildMeeting maps provider meeting + recording records onto the store
// entity, enriching every participant from the extension directory.
func (a *VideoAdapter) buildMeeting(vm *telephony.VideoMeeting, vr *telephony.VideoRecording, exts map[string]telephony.Extension) *store.Meeting {
	start := time.UnixMilli(vm.StartTime).UTC()
	end := time.UnixMilli(vm.EndTime).UTC()

	m := &store.Meeting{
		RecordingID:  vr.ID,
		Source:       store.SourceTelephonyVideo,
		ContentHash:  contentHash(string(store.SourceTelephonyVideo), vr.ID, vm.StartTime),
		Title:        vm.DisplayName,
		Platform:     "telephony-video",
		StartTime:    start,
		Duration:     vr.Duration,
		HasRecording: true,
	}
	if vm.EndTime > 0 {
		m.EndTime = &end
		if m.Duration == 0 {
			m.Duration = int(end.Sub(start).Seconds())
		}
	}

	for _, p := range vm.Participants {
		part := a.enrich(p, exts)
		m.Participants = append(m.Participants, part)
		if p.Host {
			m.HostName = part.Name
			m.HostEmail = part.Email
			m.HostExtension = part.ExtensionID
			m.HostPhone = part.Phone
		}
	}
	m.ParticipantCount = len(m.Participants)

	// Meeting history without a host row still gets host info from the
	// recording record.
	if m.HostName == "" && vr.HostInfo.DisplayName != "" {
		m.HostName = vr.HostInfo.DisplayName
		m.HostExtension = vr.HostInfo.ExtensionID
		if ext, ok := exts[vr.HostInfo.ExtensionID]; ok {
			m.HostEmail = ext.Contact.Email
			m.HostPhone = ext.Contact.BusinessPhone
		}
	}

	if raw, err := json.Marshal(vm); err == nil {
		m.RawPayload = raw
	}
	return m
}

// enrich fills a participant from the extension directory and computes
// their in-meeting duration from the join/leave pair.
func (a *VideoAdapter) enrich(p telephony.MeetingParticipant, exts map[string]telephony.Extension) store.Participant {
	part := store.Participant{
		Name:        p.DisplayName,
		Email:       strings.ToLower(p.Email),
		ExtensionID: p.ExtensionID,
		Host:        p.Host,
	}
	if ext, ok := exts[p.ExtensionID]; ok {
		if part.Name == "" {
			part.Name = strings.TrimSpace(ext.Contact.FirstName + " " + ext.Contact.LastName)
		}
		if part.Email == "" {
			part.Email = strings.ToLower(ext.Contact.Email)
		}
		part.Phone = ext.Contact.BusinessPhone
		part.Company = ext.Contact.Company
		part.Department = ext.Contact.Department
		part.Title = ext.Contact.JobTitle
	}
	part.Internal = p.ExtensionID != "" || a.isInternalDomain(part.Email)
	if p.JoinTime > 0 && p.LeaveTime > p.JoinTime {
		part.DurationSec = float64(p.LeaveTime-p.JoinTime) / 1000
	}
	return part
}

func (a *VideoAdapter) isInternalDomain(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, d := range a.internalDomains {
		if domain == d {
			return true
		}
	}
	return false
}

// syncAccountRecordings is the fallback path: meeting history is empty but
// recordings exist, so meetings are synthesised from the account-level
// recording listing.
func (a *VideoAdapter) syncAccountRecordings(ctx context.Context, from, to time.Time, exts map[string]telephony.Extension) (int, error) {
	queued := 0
	for token := ""; ; {
		page, err := a.client.AccountRecordings(ctx, from, to, token)
		if err != nil {
			return queued, fmt.Errorf("ingest: account recordings: %w", err)
		}
		for i := range page.Recordings {
			vr := &page.Recordings[i]
			exists, err := a.st.MeetingExists(ctx, store.SourceTelephonyVideo, vr.ID)
			if err != nil {
				return queued, fmt.Errorf("ingest: meeting exists: %w", err)
			}
			if exists {
				continue
			}

			synthetic := &telephony.VideoMeeting{
				ID:          vr.MeetingID,
				DisplayName: vr.DisplayName,
				StartTime:   vr.StartTime,
			}
			meeting := a.buildMeeting(synthetic, vr, exts)
			if err := a.st.UpsertMeeting(ctx, meeting); err != nil {
				return queued, fmt.Errorf("ingest: upsert synthesised meeting: %w", err)
			}
			n, err := a.queueVideoRecording(ctx, vr, meeting)
			if err != nil {
				return queued, err
			}
			queued += n
		}
		if page.Paging.PageToken == "" {
			break
		}
		token = page.Paging.PageToken
		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return queued, ctx.Err()
		}
	}
	return queued, nil
}

// loadExtensions pre-caches the full extension directory for one sync.
func (a *VideoAdapter) loadExtensions(ctx context.Context) (map[string]telephony.Extension, error) {
	out := make(map[string]telephony.Extension)
	for page := 1; ; page++ {
		p, err := a.client.Extensions(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, ext := range p.Records {
			out[ext.ID] = ext
		}
		if !p.HasNextPage() {
			return out, nil
		}
		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// directoryNames flattens the extension directory into the canonical name
// list used for transcript name resolution.
func directoryNames(exts map[string]telephony.Extension) []string {
	names := make([]string, 0, len(exts))
	for _, ext := range exts {
		name := strings.TrimSpace(ext.Contact.FirstName + " " + ext.Contact.LastName)
		if name == "" {
			name = ext.Name
		}
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// contentHash derives the meeting's stable dedup hash.
func contentHash(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
