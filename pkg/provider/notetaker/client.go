// Package notetaker provides the client for the AI notetaker meeting
// provider. Each employee holds their own API key; one Client wraps one key
// and throttles itself to the provider's per-key limit of 60 requests/min.
package notetaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimit      = 50
	defaultRetryAfter = 60 * time.Second
)

// ErrNotFound is returned for meeting sub-resources the provider has not
// produced (yet). Transcript, summary, and action-item fetches tolerate it.
var ErrNotFound = errors.New("notetaker: not found")

// RateLimitError is returned when the provider answers 429 despite local
// throttling.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("notetaker: rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterHint returns the provider-mandated wait.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Meeting is one entry from the meetings listing.
type Meeting struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MeetingType  string    `json:"meeting_type"`
	Platform     string    `json:"platform"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationSec  int       `json:"duration_sec"`
	HostName     string    `json:"host_name"`
	HostEmail    string    `json:"host_email"`
	Participants []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"participants"`
	HasRecording bool `json:"has_recording"`
}

// meetingsPage is one page of the cursor-paginated meetings listing.
type meetingsPage struct {
	Meetings []Meeting `json:"meetings"`
	Cursor   string    `json:"cursor"`
}

// TranscriptSentence is one attributed sentence of a meeting transcript.
type TranscriptSentence struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
}

// Transcript is the full transcript document of one meeting.
type Transcript struct {
	MeetingID string               `json:"meeting_id"`
	Sentences []TranscriptSentence `json:"sentences"`
}

// Text joins all sentences into one speaker-attributed text block.
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, s := range t.Sentences {
		if s.Speaker != "" {
			b.WriteString(s.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Summary is the provider-generated meeting summary.
type Summary struct {
	MeetingID string   `json:"meeting_id"`
	Overview  string   `json:"overview"`
	Keywords  []string `json:"keywords"`
}

// ActionItems is the provider-extracted action item list.
type ActionItems struct {
	MeetingID string   `json:"meeting_id"`
	Items     []string `json:"items"`
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit overrides the request rate limit. Tests use a generous
// limit to avoid real waits.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// Client talks to the notetaker provider with one employee's API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a notetaker client for a single API key. The built-in limiter
// spaces requests ~1s apart to respect the 60/min per-key limit.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("notetaker: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("notetaker: apiKey must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Minute},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ListMeetings enumerates all meetings created after the given time,
// walking the cursor pagination to the end.
func (c *Client) ListMeetings(ctx context.Context, createdAfter time.Time) ([]Meeting, error) {
	var all []Meeting
	cursor := ""
	for {
		q := url.Values{}
		q.Set("created_after", createdAfter.UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(defaultLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page meetingsPage
		if err := c.getJSON(ctx, "/meetings?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		all = append(all, page.Meetings...)
		if page.Cursor == "" || len(page.Meetings) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetTranscript fetches the full transcript of a meeting. Returns
// [ErrNotFound] when the provider has no transcript for it.
func (c *Client) GetTranscript(ctx context.Context, meetingID string) (*Transcript, error) {
	var t Transcript
	if err := c.getJSON(ctx, "/meetings/"+url.PathEscape(meetingID)+"/transcript", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetSummary fetches the provider summary of a meeting. Returns
// [ErrNotFound] when none exists.
func (c *Client) GetSummary(ctx context.Context, meetingID string) (*Summary, error) {
	var s Summary
	if err := c.getJSON(ctx, "/meetings/"+url.PathEscape(meetingID)+"/summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActionItems fetches the provider-extracted action items of a meeting.
// Returns [ErrNotFound] when none exist.
func (c *Client) GetActionItems(ctx context.Context, meetingID string) (*ActionItems, error) {
	var a ActionItems
	if err := c.getJSON(ctx, "/meetings/"+url.PathEscape(meetingID)+"/action-items", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// getJSON performs one rate-limited authenticated GET.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("notetaker: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notetaker: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return fmt.Errorf("notetaker: GET %s: server error %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("notetaker: GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("notetaker: decode %s: %w", path, err)
	}
	return nil
}

// parseRetryAfter reads a Retry-After header value in seconds, falling back
// to 60s when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
