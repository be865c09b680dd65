package ingest

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/telephony"
)

// fakeVideoStore records meetings and recording rows.
type fakeVideoStore struct {
	fakeRecordingStore
	mu       sync.Mutex
	meetings map[string]*store.Meeting
}

func newFakeVideoStore() *fakeVideoStore {
	return &fakeVideoStore{
		fakeRecordingStore: *newFakeRecordingStore(),
		meetings:           map[string]*store.Meeting{},
	}
}

func (f *fakeVideoStore) UpsertMeeting(_ context.Context, m *store.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.meetings[m.RecordingID] = &cp
	return nil
}

func (f *fakeVideoStore) MeetingExists(_ context.Context, _ store.MeetingSource, recordingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.meetings[recordingID]
	return ok, nil
}

// fakeVideoClient serves one meetings page, recordings, extensions, and an
// account-recordings fallback.
type fakeVideoClient struct {
	meetings   []telephony.VideoMeeting
	recordings map[string]*telephony.VideoRecording
	account    []telephony.VideoRecording
	extensions []telephony.Extension

	accountCalls int
}

func (c *fakeVideoClient) VideoMeetings(_ context.Context, _, _ time.Time, _ string) (*telephony.MeetingsPage, error) {
	return &telephony.MeetingsPage{Meetings: c.meetings}, nil
}

func (c *fakeVideoClient) VideoRecording(_ context.Context, id string) (*telephony.VideoRecording, error) {
	return c.recordings[id], nil
}

func (c *fakeVideoClient) AccountRecordings(_ context.Context, _, _ time.Time, _ string) (*telephony.RecordingsPage, error) {
	c.accountCalls++
	return &telephony.RecordingsPage{Recordings: c.account}, nil
}

func (c *fakeVideoClient) Extensions(_ context.Context, _ int) (*telephony.ExtensionsPage, error) {
	return &telephony.ExtensionsPage{Records: c.extensions}, nil
}

func videoFixtureClient() *fakeVideoClient {
	startMs := time.Date(2025, 9, 22, 10, 0, 0, 0, time.UTC).UnixMilli()
	return &fakeVideoClient{
		meetings: []telephony.VideoMeeting{{
			ID:          "meet-1",
			DisplayName: "Quarterly Review",
			StartTime:   startMs,
			EndTime:     startMs + 30*60*1000,
			Participants: []telephony.MeetingParticipant{
				{
					DisplayName: "Dana Reyes", ExtensionID: "ext-1", Host: true,
					JoinTime: startMs, LeaveTime: startMs + 30*60*1000,
				},
				{
					DisplayName: "Pat Chen", Email: "pat@customer.io",
					JoinTime: startMs + 60_000, LeaveTime: startMs + 29*60*1000,
				},
			},
			Recordings: []telephony.RecordingRef{{ID: "vrec-1"}},
		}},
		recordings: map[string]*telephony.VideoRecording{
			"vrec-1": {
				ID: "vrec-1", MeetingID: "meet-1", Duration: 1800,
				MediaLink: "https://media/vrec-1",
			},
		},
		extensions: []telephony.Extension{{
			ID: "ext-1",
			Contact: telephony.ExtensionContact{
				FirstName: "Dana", LastName: "Reyes", Email: "dana@acme.com",
				BusinessPhone: "+15550009999", Company: "Acme",
				Department: "Sales", JobTitle: "AE",
			},
		}},
	}
}

func newVideoFixture(t *testing.T, client *fakeVideoClient) (*VideoAdapter, *fakeVideoStore) {
	t.Helper()
	st := newFakeVideoStore()
	cache := NewIDCache()
	dedup := NewDeduper(newFakeDedupStore(), cache, t.TempDir())
	a := NewVideoAdapter(client, st, dedup, cache, []string{"acme.com"}, slog.Default())
	return a, st
}

func TestVideoSyncDayQueuesMeetingAndRecording(t *testing.T) {
	client := videoFixtureClient()
	a, st := newVideoFixture(t, client)

	queued, err := a.SyncDay(context.Background(), time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SyncDay: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}

	m := st.meetings["vrec-1"]
	if m == nil {
		t.Fatal("meeting row missing")
	}
	if m.Title != "Quarterly Review" || m.Source != store.SourceTelephonyVideo {
		t.Errorf("meeting = %+v", m)
	}
	if m.HostName != "Dana Reyes" || m.HostEmail != "dana@acme.com" || m.HostPhone != "+15550009999" {
		t.Errorf("host enrichment = %q/%q/%q", m.HostName, m.HostEmail, m.HostPhone)
	}
	if m.ParticipantCount != 2 {
		t.Fatalf("participants = %d", m.ParticipantCount)
	}

	host, guest := m.Participants[0], m.Participants[1]
	if !host.Internal || host.Company != "Acme" || host.Department != "Sales" {
		t.Errorf("host participant not enriched: %+v", host)
	}
	if guest.Internal {
		t.Error("external-domain participant flagged internal")
	}
	if host.DurationSec != 1800 {
		t.Errorf("host duration = %v, want 1800s from join/leave", host.DurationSec)
	}
	if guest.DurationSec != 28*60 {
		t.Errorf("guest duration = %v, want 1680s", guest.DurationSec)
	}

	if len(st.inserted) != 1 {
		t.Fatalf("recording rows = %d, want 1", len(st.inserted))
	}
	row := st.inserted[0]
	if row.MediaKind != "video" || row.MediaURI != "https://media/vrec-1" {
		t.Errorf("recording media = %q/%q", row.MediaKind, row.MediaURI)
	}
	if row.Duration != 1800 {
		t.Errorf("recording duration = %d", row.Duration)
	}
}

type fakeDirectorySink struct{ names []string }

func (f *fakeDirectorySink) SetDirectory(names []string) {
	f.names = append([]string(nil), names...)
}

func TestVideoSyncDayPushesExtensionDirectory(t *testing.T) {
	client := videoFixtureClient()
	a, _ := newVideoFixture(t, client)
	sink := &fakeDirectorySink{}
	a.SetDirectorySink(sink)

	if _, err := a.SyncDay(context.Background(), time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SyncDay: %v", err)
	}
	if len(sink.names) != 1 || sink.names[0] != "Dana Reyes" {
		t.Fatalf("directory = %v, want the extension contact names", sink.names)
	}
}

func TestVideoSyncDayIdempotent(t *testing.T) {
	client := videoFixtureClient()
	a, st := newVideoFixture(t, client)
	day := time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC)

	if _, err := a.SyncDay(context.Background(), day); err != nil {
		t.Fatal(err)
	}
	queued, err := a.SyncDay(context.Background(), day)
	if err != nil {
		t.Fatalf("second SyncDay: %v", err)
	}
	if queued != 0 || len(st.inserted) != 1 {
		t.Fatalf("second sync queued %d, want 0", queued)
	}
}

func TestVideoSyncDayFallsBackToAccountRecordings(t *testing.T) {
	client := videoFixtureClient()
	vr := *client.recordings["vrec-1"]
	vr.DisplayName = "Recorded Standup"
	vr.StartTime = time.Date(2025, 9, 22, 9, 0, 0, 0, time.UTC).UnixMilli()
	vr.HostInfo.DisplayName = "Dana Reyes"
	vr.HostInfo.ExtensionID = "ext-1"
	client.meetings = nil
	client.account = []telephony.VideoRecording{vr}

	a, st := newVideoFixture(t, client)
	queued, err := a.SyncDay(context.Background(), time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SyncDay: %v", err)
	}
	if client.accountCalls != 1 {
		t.Fatal("empty meeting history must trigger the account-recordings fallback")
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}

	m := st.meetings["vrec-1"]
	if m == nil || m.Title != "Recorded Standup" {
		t.Fatalf("synthesised meeting = %+v", m)
	}
	if m.HostName != "Dana Reyes" || m.HostEmail != "dana@acme.com" {
		t.Errorf("fallback host enrichment = %q/%q", m.HostName, m.HostEmail)
	}
}
