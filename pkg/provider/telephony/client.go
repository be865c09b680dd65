// Package telephony provides the client for the telephony and video-meeting
// provider. Authentication uses a long-lived JWT assertion exchanged for
// short-lived access tokens; the exchange is transparent to callers and
// tokens are refreshed shortly before expiry.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPerPage     = 250
	tokenRefreshMargin = 60 * time.Second
	defaultRetryAfter  = 60 * time.Second
)

// RateLimitError is returned when the provider answers 429. RetryAfter
// holds the provider-mandated wait before the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telephony: rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterHint returns the provider-mandated wait.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPerPage overrides the page size used for paginated listings.
func WithPerPage(n int) Option {
	return func(c *Client) {
		c.perPage = n
	}
}

// Client talks to the telephony provider's REST API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	jwtAssertion string
	perPage      int
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a telephony client. jwtAssertion is the long-lived credential
// exchanged for access tokens.
func New(baseURL, clientID, clientSecret, jwtAssertion string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("telephony: baseURL must not be empty")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("telephony: client credentials must not be empty")
	}
	if jwtAssertion == "" {
		return nil, errors.New("telephony: jwtAssertion must not be empty")
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		jwtAssertion: jwtAssertion,
		perPage:      defaultPerPage,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// tokenResponse is the OAuth token endpoint's reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a valid access token, exchanging the JWT assertion when the
// cached token is missing or close to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", c.jwtAssertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telephony: token exchange: unexpected status %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("telephony: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("telephony: token response missing access_token")
	}
	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// CallLog fetches one page of the detailed voice call log for the window.
// Pages are 1-based.
func (c *Client) CallLog(ctx context.Context, from, to time.Time, page int) (*CallLogPage, error) {
	q := url.Values{}
	q.Set("dateFrom", from.UTC().Format(time.RFC3339))
	q.Set("dateTo", to.UTC().Format(time.RFC3339))
	q.Set("type", "Voice")
	q.Set("view", "Detailed")
	q.Set("recordingType", "All")
	q.Set("perPage", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))

	var out CallLogPage
	if err := c.getJSON(ctx, "/call-log?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VideoMeetings fetches one page of video meeting history. pageToken is
// empty for the first page.
func (c *Client) VideoMeetings(ctx context.Context, from, to time.Time, pageToken string) (*MeetingsPage, error) {
	q := url.Values{}
	q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	q.Set("perPage", strconv.Itoa(c.perPage))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var out MeetingsPage
	if err := c.getJSON(ctx, "/video/history/meetings?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VideoRecording fetches one video recording record with its media URIs.
func (c *Client) VideoRecording(ctx context.Context, id string) (*VideoRecording, error) {
	var out VideoRecording
	if err := c.getJSON(ctx, "/video/recordings/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountRecordings lists account-level video recordings for the window.
// Used as a fallback when meeting history comes back empty but recordings
// exist.
func (c *Client) AccountRecordings(ctx context.Context, from, to time.Time, pageToken string) (*RecordingsPage, error) {
	q := url.Values{}
	q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	q.Set("perPage", strconv.Itoa(c.perPage))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var out RecordingsPage
	if err := c.getJSON(ctx, "/video/recordings?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extensions fetches one page of the extension directory. Pages are 1-based.
func (c *Client) Extensions(ctx context.Context, page int) (*ExtensionsPage, error) {
	q := url.Values{}
	q.Set("perPage", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))

	var out ExtensionsPage
	if err := c.getJSON(ctx, "/extensions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadCallRecording streams the audio of a call-log recording to
// destPath via its content URI.
func (c *Client) DownloadCallRecording(ctx context.Context, rec *RecordingRef, destPath string) error {
	if rec == nil || rec.ContentURI == "" {
		return errors.New("telephony: recording has no content URI")
	}
	return c.downloadTo(ctx, rec.ContentURI, destPath)
}

// DownloadVideoRecording streams a video recording's media to destPath. The
// presigned media link is preferred; the SDK-authenticated download URI is
// the fallback.
func (c *Client) DownloadVideoRecording(ctx context.Context, rec *VideoRecording, destPath string) error {
	switch {
	case rec.MediaLink != "":
		return c.downloadTo(ctx, rec.MediaLink, destPath)
	case rec.DownloadURI != "":
		return c.downloadTo(ctx, rec.DownloadURI, destPath)
	default:
		return fmt.Errorf("telephony: recording %s has no media link or download URI", rec.ID)
	}
}

// downloadTo streams rawURL to destPath with bearer authentication. The
// write goes through a temp file so a torn transfer never leaves a partial
// file at the destination.
func (c *Client) downloadTo(ctx context.Context, rawURL, destPath string) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	target := rawURL
	if strings.HasPrefix(target, "/") {
		target = c.baseURL + target
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("telephony: build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("telephony: download: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("telephony: create dest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("telephony: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("telephony: write %s: %w", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("telephony: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("telephony: finalize %s: %w", destPath, err)
	}
	return nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked server-side; drop the cache so the
		// next call re-exchanges the assertion.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return fmt.Errorf("telephony: GET %s: unauthorized", path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("telephony: GET %s: server error %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("telephony: GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telephony: decode %s: %w", path, err)
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
