package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// tokenHandler answers the OAuth endpoint and counts exchanges.
func tokenHandler(t *testing.T, exchanges *atomic.Int32, expiresIn int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		exchanges.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("token method = %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "csecret" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("assertion"); got != "jwt-assertion" {
			t.Errorf("assertion = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1", "expires_in": expiresIn,
		})
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *atomic.Int32) {
	t.Helper()
	var exchanges atomic.Int32
	mux := http.NewServeMux()
	mux.Handle("/oauth/token", tokenHandler(t, &exchanges, 3600))
	if handler != nil {
		mux.Handle("/", handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "cid", "csecret", "jwt-assertion")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &exchanges
}

func TestTokenExchangedOnceAndCached(t *testing.T) {
	c, exchanges := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth = %q", got)
		}
		_ = json.NewEncoder(w).Encode(CallLogPage{})
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.CallLog(ctx, time.Now().Add(-time.Hour), time.Now(), 1); err != nil {
			t.Fatalf("CallLog: %v", err)
		}
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want 1 (cached)", got)
	}
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	var calls atomic.Int32
	c, exchanges := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(CallLogPage{})
	}))

	ctx := context.Background()
	if _, err := c.CallLog(ctx, time.Now(), time.Now(), 1); err == nil {
		t.Fatal("expected unauthorized error")
	}
	if _, err := c.CallLog(ctx, time.Now(), time.Now(), 1); err != nil {
		t.Fatalf("CallLog after re-auth: %v", err)
	}
	if got := exchanges.Load(); got != 2 {
		t.Errorf("token exchanges = %d, want 2 (cache dropped on 401)", got)
	}
}

func TestCallLogSendsWindowAndPaging(t *testing.T) {
	from := time.Date(2025, 9, 21, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call-log" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("dateFrom") != "2025-09-21T00:00:00Z" || q.Get("dateTo") != "2025-09-22T00:00:00Z" {
			t.Errorf("window = %q..%q", q.Get("dateFrom"), q.Get("dateTo"))
		}
		if q.Get("type") != "Voice" || q.Get("view") != "Detailed" || q.Get("page") != "2" {
			t.Errorf("query = %v", q)
		}
		page := CallLogPage{Records: []CallLogRecord{{ID: "c1", SessionID: "s1"}}}
		page.Navigation.NextPage = &struct {
			URI string `json:"uri"`
		}{URI: "/call-log?page=3"}
		_ = json.NewEncoder(w).Encode(page)
	}))

	page, err := c.CallLog(context.Background(), from, to, 2)
	if err != nil {
		t.Fatalf("CallLog: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].ID != "c1" {
		t.Errorf("records = %+v", page.Records)
	}
	if !page.HasNextPage() {
		t.Error("HasNextPage = false, want true")
	}
}

func TestVideoMeetingsPageToken(t *testing.T) {
	var gotToken string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/video/history/meetings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotToken = r.URL.Query().Get("pageToken")
		_ = json.NewEncoder(w).Encode(MeetingsPage{
			Meetings: []VideoMeeting{{ID: "m1"}},
		})
	}))

	ctx := context.Background()
	if _, err := c.VideoMeetings(ctx, time.Now(), time.Now(), ""); err != nil {
		t.Fatalf("VideoMeetings: %v", err)
	}
	if gotToken != "" {
		t.Errorf("first page sent pageToken %q", gotToken)
	}
	if _, err := c.VideoMeetings(ctx, time.Now(), time.Now(), "next-123"); err != nil {
		t.Fatalf("VideoMeetings: %v", err)
	}
	if gotToken != "next-123" {
		t.Errorf("pageToken = %q, want next-123", gotToken)
	}
}

func TestRateLimitReturnsTypedError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Extensions(context.Background(), 1)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 42*time.Second {
		t.Errorf("retry after = %v, want 42s", rl.RetryAfter)
	}
	if rl.RetryAfterHint() != 42*time.Second {
		t.Errorf("hint = %v", rl.RetryAfterHint())
	}
}

func TestDownloadCallRecordingResolvesRelativeURI(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings/rec-1/content" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("wav-bytes"))
	}))

	dest := filepath.Join(t.TempDir(), "rec-1.wav")
	err := c.DownloadCallRecording(context.Background(),
		&RecordingRef{ID: "rec-1", ContentURI: "/recordings/rec-1/content"}, dest)
	if err != nil {
		t.Fatalf("DownloadCallRecording: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "wav-bytes" {
		t.Errorf("downloaded = %q, err = %v", data, err)
	}
}

func TestDownloadVideoRecordingPrefersMediaLink(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("mp4"))
	}))

	dest := filepath.Join(t.TempDir(), "v.mp4")
	rec := &VideoRecording{ID: "v1", MediaLink: "/media/v1", DownloadURI: "/download/v1"}
	if err := c.DownloadVideoRecording(context.Background(), rec, dest); err != nil {
		t.Fatalf("DownloadVideoRecording: %v", err)
	}
	if gotPath != "/media/v1" {
		t.Errorf("downloaded from %q, want /media/v1", gotPath)
	}

	rec = &VideoRecording{ID: "v2"}
	if err := c.DownloadVideoRecording(context.Background(), rec, dest); err == nil {
		t.Error("expected error for recording without media URIs")
	}
}

func TestParseRetryAfterFallback(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":     defaultRetryAfter,
		"abc":  defaultRetryAfter,
		"-5":   defaultRetryAfter,
		"17":   17 * time.Second,
		"3600": time.Hour,
	} {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
