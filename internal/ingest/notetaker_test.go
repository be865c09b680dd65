package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/notetaker"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	c, err := NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// fakeNotetakerStore backs the sync with in-memory credential and meeting
// tables.
type fakeNotetakerStore struct {
	mu         sync.Mutex
	creds      []store.EmployeeCredential
	meetings   map[string]*store.Meeting
	hashes     map[string]bool
	watermarks map[string]string
}

func newFakeNotetakerStore(creds ...store.EmployeeCredential) *fakeNotetakerStore {
	return &fakeNotetakerStore{
		creds:      creds,
		meetings:   map[string]*store.Meeting{},
		hashes:     map[string]bool{},
		watermarks: map[string]string{},
	}
}

func (f *fakeNotetakerStore) ActiveCredentials(_ context.Context) ([]store.EmployeeCredential, error) {
	return f.creds, nil
}

func (f *fakeNotetakerStore) SetLastSyncedRecording(_ context.Context, employeeID, recordingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks[employeeID] = recordingID
	return nil
}

func (f *fakeNotetakerStore) MeetingExists(_ context.Context, _ store.MeetingSource, recordingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.meetings[recordingID]
	return ok, nil
}

func (f *fakeNotetakerStore) MeetingContentHashExists(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[hash], nil
}

func (f *fakeNotetakerStore) UpsertMeeting(_ context.Context, m *store.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = int64(len(f.meetings) + 1)
	cp := *m
	// The real upsert never writes transcript columns.
	cp.TranscriptText, cp.TranscriptMissing, cp.SummaryText = "", false, ""
	f.meetings[m.RecordingID] = &cp
	f.hashes[m.ContentHash] = true
	return nil
}

func (f *fakeNotetakerStore) SetMeetingTranscript(_ context.Context, id int64, text string, missing bool, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.ID == id {
			m.TranscriptText, m.TranscriptMissing, m.SummaryText = text, missing, summary
			return nil
		}
	}
	return store.ErrNotFound
}

// fakeNotetakerClient serves a fixed meeting set per API key.
type fakeNotetakerClient struct {
	meetings          []notetaker.Meeting
	transcripts       map[string]*notetaker.Transcript
	missingTranscript map[string]bool
}

func (c *fakeNotetakerClient) ListMeetings(_ context.Context, _ time.Time) ([]notetaker.Meeting, error) {
	return c.meetings, nil
}

func (c *fakeNotetakerClient) GetTranscript(_ context.Context, id string) (*notetaker.Transcript, error) {
	if c.missingTranscript[id] {
		return nil, notetaker.ErrNotFound
	}
	if t, ok := c.transcripts[id]; ok {
		return t, nil
	}
	return nil, notetaker.ErrNotFound
}

func (c *fakeNotetakerClient) GetSummary(_ context.Context, id string) (*notetaker.Summary, error) {
	return &notetaker.Summary{MeetingID: id, Overview: "summary of " + id}, nil
}

func (c *fakeNotetakerClient) GetActionItems(_ context.Context, id string) (*notetaker.ActionItems, error) {
	return &notetaker.ActionItems{MeetingID: id, Items: []string{"follow up"}}, nil
}

func notetakerMeeting(id string) notetaker.Meeting {
	return notetaker.Meeting{
		ID:          id,
		Title:       "Sync " + id,
		MeetingType: "external",
		Platform:    "zoom",
		StartTime:   time.Date(2025, 9, 23, 14, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2025, 9, 23, 14, 30, 0, 0, time.UTC),
		DurationSec: 1800,
		HostName:    "Dana Reyes",
		HostEmail:   "dana@acme.com",
	}
}

func encryptedCred(t *testing.T, c *Cipher, employeeID, key string) store.EmployeeCredential {
	t.Helper()
	blob, err := c.Encrypt(key)
	if err != nil {
		t.Fatal(err)
	}
	return store.EmployeeCredential{EmployeeID: employeeID, Email: employeeID + "@acme.com", EncryptedAPIKey: blob, Active: true}
}

func TestNotetakerSyncIngestsMeetings(t *testing.T) {
	cipher := testCipher(t)
	st := newFakeNotetakerStore(encryptedCred(t, cipher, "emp-1", "key-1"))

	client := &fakeNotetakerClient{
		meetings: []notetaker.Meeting{notetakerMeeting("nm-1")},
		transcripts: map[string]*notetaker.Transcript{
			"nm-1": {MeetingID: "nm-1", Sentences: []notetaker.TranscriptSentence{
				{Speaker: "Dana", Text: "Welcome everyone."},
				{Speaker: "Pat", Text: "Thanks."},
			}},
		},
	}
	var gotKeys []string
	factory := func(apiKey string) (NotetakerClient, error) {
		gotKeys = append(gotKeys, apiKey)
		return client, nil
	}

	s := NewNotetakerSync(st, cipher, factory, 0, slog.Default())
	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Meetings != 1 || res.Missing != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(gotKeys) != 1 || gotKeys[0] != "key-1" {
		t.Fatalf("decrypted keys = %v, want the plaintext key", gotKeys)
	}

	m := st.meetings["nm-1"]
	if m == nil {
		t.Fatal("meeting not persisted")
	}
	if m.Source != store.SourceNotetaker || m.TranscriptMissing {
		t.Errorf("meeting = %+v", m)
	}
	if m.TranscriptText != "Dana: Welcome everyone.\nPat: Thanks." {
		t.Errorf("transcript = %q", m.TranscriptText)
	}
	if m.SummaryText == "" || len(m.ActionItems) != 1 {
		t.Errorf("summary/action items not captured: %q %v", m.SummaryText, m.ActionItems)
	}
	if st.watermarks["emp-1"] != "nm-1" {
		t.Errorf("watermark = %q, want nm-1", st.watermarks["emp-1"])
	}
}

func TestNotetakerSyncToleratesMissingTranscript(t *testing.T) {
	cipher := testCipher(t)
	st := newFakeNotetakerStore(encryptedCred(t, cipher, "emp-1", "key-1"))
	client := &fakeNotetakerClient{
		meetings:          []notetaker.Meeting{notetakerMeeting("nm-404")},
		missingTranscript: map[string]bool{"nm-404": true},
	}
	s := NewNotetakerSync(st, cipher, func(string) (NotetakerClient, error) { return client, nil }, 0, slog.Default())

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Meetings != 1 || res.Missing != 1 {
		t.Fatalf("result = %+v, want one meeting with missing transcript", res)
	}
	m := st.meetings["nm-404"]
	if !m.TranscriptMissing || m.TranscriptText != "" {
		t.Errorf("meeting = %+v, want empty transcript flagged missing", m)
	}
}

func TestNotetakerSyncSkipsKnownMeetings(t *testing.T) {
	cipher := testCipher(t)
	st := newFakeNotetakerStore(encryptedCred(t, cipher, "emp-1", "key-1"))
	st.meetings["nm-1"] = &store.Meeting{RecordingID: "nm-1", Source: store.SourceNotetaker}

	client := &fakeNotetakerClient{meetings: []notetaker.Meeting{notetakerMeeting("nm-1")}}
	s := NewNotetakerSync(st, cipher, func(string) (NotetakerClient, error) { return client, nil }, 0, slog.Default())

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Meetings != 0 {
		t.Fatalf("result = %+v, want nothing new", res)
	}
}

func TestNotetakerSyncIsolatesEmployeeFailures(t *testing.T) {
	cipher := testCipher(t)
	st := newFakeNotetakerStore(
		encryptedCred(t, cipher, "emp-bad", "key-bad"),
		encryptedCred(t, cipher, "emp-good", "key-good"),
	)
	good := &fakeNotetakerClient{
		meetings: []notetaker.Meeting{notetakerMeeting("nm-2")},
		transcripts: map[string]*notetaker.Transcript{
			"nm-2": {Sentences: []notetaker.TranscriptSentence{{Text: "hello"}}},
		},
	}
	factory := func(apiKey string) (NotetakerClient, error) {
		if apiKey == "key-bad" {
			return nil, errors.New("credential revoked")
		}
		return good, nil
	}
	s := NewNotetakerSync(st, cipher, factory, 0, slog.Default())

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Meetings != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v, want the good employee synced and one error", res)
	}
}
