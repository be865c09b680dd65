package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const meetingColumns = `
	id, recording_id, source, content_hash, title, meeting_type, platform,
	host_name, host_email, host_extension_id, host_phone,
	start_time, end_time, duration_seconds, participant_count, has_recording,
	participants, action_items, crm_deals, raw_payload,
	transcript_text, transcript_missing, summary_text,
	layer1_complete, layer2_complete, layer3_complete,
	layer4_complete, layer5_complete, layer6_complete,
	created_at, last_updated`

// scanMeeting scans one meetings row in meetingColumns order.
func scanMeeting(row pgx.CollectableRow) (Meeting, error) {
	var (
		m            Meeting
		source       string
		participants []byte
		actionItems  []byte
		crmDeals     []byte
	)
	if err := row.Scan(
		&m.ID, &m.RecordingID, &source, &m.ContentHash, &m.Title, &m.MeetingType, &m.Platform,
		&m.HostName, &m.HostEmail, &m.HostExtension, &m.HostPhone,
		&m.StartTime, &m.EndTime, &m.Duration, &m.ParticipantCount, &m.HasRecording,
		&participants, &actionItems, &crmDeals, &m.RawPayload,
		&m.TranscriptText, &m.TranscriptMissing, &m.SummaryText,
		&m.LayerComplete[0], &m.LayerComplete[1], &m.LayerComplete[2],
		&m.LayerComplete[3], &m.LayerComplete[4], &m.LayerComplete[5],
		&m.CreatedAt, &m.LastUpdated,
	); err != nil {
		return Meeting{}, err
	}
	m.Source = MeetingSource(source)
	if err := json.Unmarshal(participants, &m.Participants); err != nil {
		return Meeting{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(actionItems, &m.ActionItems); err != nil {
		return Meeting{}, fmt.Errorf("unmarshal action items: %w", err)
	}
	if err := json.Unmarshal(crmDeals, &m.CRMDeals); err != nil {
		return Meeting{}, fmt.Errorf("unmarshal crm deals: %w", err)
	}
	return m, nil
}

// UpsertMeeting inserts a meeting or refreshes its provider-sourced fields
// when a row with the same (source, recording_id) already exists. Layer
// flags and transcript fields are never reset by a re-sync. The meeting's
// ID field is populated on return.
func (s *Store) UpsertMeeting(ctx context.Context, m *Meeting) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("store: marshal participants: %w", err)
	}
	actionItems, err := json.Marshal(m.ActionItems)
	if err != nil {
		return fmt.Errorf("store: marshal action items: %w", err)
	}
	crmDeals, err := json.Marshal(m.CRMDeals)
	if err != nil {
		return fmt.Errorf("store: marshal crm deals: %w", err)
	}
	raw := m.RawPayload
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	const q = `
		INSERT INTO meetings
		    (recording_id, source, content_hash, title, meeting_type, platform,
		     host_name, host_email, host_extension_id, host_phone,
		     start_time, end_time, duration_seconds, participant_count,
		     has_recording, participants, action_items, crm_deals, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (source, recording_id) DO UPDATE SET
		    content_hash      = EXCLUDED.content_hash,
		    title             = EXCLUDED.title,
		    platform          = EXCLUDED.platform,
		    host_name         = EXCLUDED.host_name,
		    host_email        = EXCLUDED.host_email,
		    host_extension_id = EXCLUDED.host_extension_id,
		    host_phone        = EXCLUDED.host_phone,
		    end_time          = EXCLUDED.end_time,
		    duration_seconds  = EXCLUDED.duration_seconds,
		    participant_count = EXCLUDED.participant_count,
		    has_recording     = EXCLUDED.has_recording,
		    participants      = EXCLUDED.participants,
		    action_items      = EXCLUDED.action_items,
		    crm_deals         = EXCLUDED.crm_deals,
		    raw_payload       = EXCLUDED.raw_payload,
		    last_updated      = now()
		RETURNING id`

	err = s.pool.QueryRow(ctx, q,
		m.RecordingID, string(m.Source), m.ContentHash, m.Title, m.MeetingType, m.Platform,
		m.HostName, m.HostEmail, m.HostExtension, m.HostPhone,
		m.StartTime, m.EndTime, m.Duration, len(m.Participants),
		m.HasRecording, participants, actionItems, crmDeals, raw,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("store: upsert meeting %s/%s: %w", m.Source, m.RecordingID, err)
	}
	return nil
}

// GetMeeting loads one meeting by its surrogate id.
func (s *Store) GetMeeting(ctx context.Context, id int64) (*Meeting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get meeting %d: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get meeting %d: %w", id, err)
	}
	return &m, nil
}

// MeetingByRecording loads the meeting associated with a provider recording
// id, regardless of source. Returns [ErrNotFound] when the recording has no
// meeting row (plain telephony calls never do).
func (s *Store) MeetingByRecording(ctx context.Context, recordingID string) (*Meeting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE recording_id = $1 LIMIT 1`,
		recordingID)
	if err != nil {
		return nil, fmt.Errorf("store: meeting by recording %s: %w", recordingID, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: meeting by recording %s: %w", recordingID, err)
	}
	return &m, nil
}

// MeetingExists reports whether a meeting with the given source and
// provider recording id is already persisted.
func (s *Store) MeetingExists(ctx context.Context, source MeetingSource, recordingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE source = $1 AND recording_id = $2)`,
		string(source), recordingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: meeting exists: %w", err)
	}
	return exists, nil
}

// MeetingContentHashExists reports whether any meeting carries the given
// content hash. Catches the same meeting delivered by two providers.
func (s *Store) MeetingContentHashExists(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE content_hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: meeting hash exists: %w", err)
	}
	return exists, nil
}

// LinkTranscript attaches a finished transcript to the recording's meeting
// row and returns the meeting id. Recordings discovered through meeting
// history already have a row; plain telephony calls get one synthesised
// here. Setting the transcript text is what makes the meeting eligible for
// the first analysis layer.
func (s *Store) LinkTranscript(ctx context.Context, rec *Recording, t *Transcript) (int64, error) {
	m, err := s.MeetingByRecording(ctx, rec.RecordingID)
	switch {
	case errors.Is(err, ErrNotFound):
		m = meetingFromCall(rec, t)
		if err := s.UpsertMeeting(ctx, m); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	}
	if err := s.SetMeetingTranscript(ctx, m.ID, t.Text, false, m.SummaryText); err != nil {
		return 0, err
	}
	return m.ID, nil
}

// meetingFromCall synthesises the meeting row for a plain telephony call,
// which has no meeting-history record. The transcript's resolved names
// already account for call direction; the raw parties are swapped here the
// same way.
func meetingFromCall(rec *Recording, t *Transcript) *Meeting {
	employee, customer := rec.From, rec.To
	if rec.Direction == DirectionInbound {
		employee, customer = rec.To, rec.From
	}

	title := "Call " + rec.RecordingID
	if t.ParticipantName != "" && t.CustomerName != "" {
		title = fmt.Sprintf("Call %s - %s", t.ParticipantName, t.CustomerName)
	}

	end := rec.StartTime.Add(time.Duration(rec.Duration) * time.Second)
	m := &Meeting{
		RecordingID:   rec.RecordingID,
		Source:        SourceTelephony,
		Title:         title,
		Platform:      "telephony",
		HostName:      t.ParticipantName,
		HostPhone:     employee.Number,
		HostExtension: employee.Extension,
		StartTime:     rec.StartTime,
		EndTime:       &end,
		Duration:      rec.Duration,
		HasRecording:  true,
		Participants: []Participant{
			{Name: t.ParticipantName, Phone: employee.Number, ExtensionID: employee.Extension, Internal: true, Host: true},
			{Name: t.CustomerName, Phone: customer.Number},
		},
	}
	m.ParticipantCount = len(m.Participants)
	return m
}

// SetMeetingTranscript stores the transcript and summary text delivered by
// the provider or produced by the transcription orchestrator.
func (s *Store) SetMeetingTranscript(ctx context.Context, id int64, text string, missing bool, summary string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE meetings
		 SET transcript_text = $2, transcript_missing = $3, summary_text = $4,
		     last_updated = now()
		 WHERE id = $1`,
		id, text, missing, summary)
	if err != nil {
		return fmt.Errorf("store: set meeting transcript %d: %w", id, err)
	}
	return nil
}

// SetMeetingType stores the closed-enum meeting type classified by layer 1.
func (s *Store) SetMeetingType(ctx context.Context, id int64, meetingType string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE meetings SET meeting_type = $2, last_updated = now() WHERE id = $1`,
		id, meetingType)
	if err != nil {
		return fmt.Errorf("store: set meeting type %d: %w", id, err)
	}
	return nil
}

// MeetingsForLayer returns meetings eligible for the given cascade layer:
// the predecessor layer is complete (layer 1 requires only a transcript)
// and the layer itself is not.
func (s *Store) MeetingsForLayer(ctx context.Context, layer, limit int) ([]Meeting, error) {
	if layer < 1 || layer > 6 {
		return nil, fmt.Errorf("store: meetings for layer: layer %d out of range", layer)
	}

	var cond string
	if layer == 1 {
		cond = `transcript_text <> '' AND NOT layer1_complete`
	} else {
		cond = fmt.Sprintf(`layer%d_complete AND NOT layer%d_complete`, layer-1, layer)
	}

	q := fmt.Sprintf(`SELECT %s FROM meetings WHERE %s ORDER BY start_time LIMIT $1`,
		meetingColumns, cond)

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: meetings for layer %d: %w", layer, err)
	}
	meetings, err := pgx.CollectRows(rows, scanMeeting)
	if err != nil {
		return nil, fmt.Errorf("store: scan meetings for layer %d: %w", layer, err)
	}
	return meetings, nil
}

// SetLayerComplete marks one cascade layer finished for a meeting.
func (s *Store) SetLayerComplete(ctx context.Context, id int64, layer int) error {
	if layer < 1 || layer > 6 {
		return fmt.Errorf("store: set layer complete: layer %d out of range", layer)
	}
	q := fmt.Sprintf(
		`UPDATE meetings SET layer%d_complete = TRUE, last_updated = now() WHERE id = $1`,
		layer)
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: set layer %d complete for %d: %w", layer, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
