package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultRetryAfter = 60 * time.Second

// Ensure HTTPClient implements the Client interface.
var _ Client = (*HTTPClient)(nil)

// Option is a functional option for HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// HTTPClient talks to the ASR service over its JSON REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates an ASR client for the given service endpoint.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("asr: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("asr: apiKey must not be empty")
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// submitBody is the JSON payload for job creation.
type submitBody struct {
	AudioURL            string   `json:"audio_url"`
	Engine              string   `json:"engine"`
	Language            string   `json:"language,omitempty"`
	InitialPrompt       string   `json:"initial_prompt,omitempty"`
	EnableDiarization   bool     `json:"enable_diarization,omitempty"`
	EnableSummarization bool     `json:"enable_summarization,omitempty"`
	CustomVocabulary    []string `json:"custom_vocabulary,omitempty"`
	Metadata            struct {
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	} `json:"metadata"`
}

// jobEnvelope is the service's job representation.
type jobEnvelope struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, req JobRequest) (*Job, error) {
	body := submitBody{
		AudioURL:            req.AudioURL,
		Engine:              req.Engine,
		Language:            req.Language,
		InitialPrompt:       req.InitialPrompt,
		EnableDiarization:   req.EnableDiarization,
		EnableSummarization: req.EnableSummarization,
		CustomVocabulary:    req.CustomVocabulary,
	}
	body.Metadata.IdempotencyKey = req.IdempotencyKey

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("asr: marshal submit body: %w", err)
	}

	var env jobEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", payload, &env); err != nil {
		return nil, err
	}
	if env.ID == "" {
		return nil, errors.New("asr: submit response missing job id")
	}
	return &Job{ID: env.ID, Status: JobStatus(env.Status)}, nil
}

// Poll implements Client.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (JobStatus, string, error) {
	var env jobEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil, &env); err != nil {
		return "", "", err
	}
	status := JobStatus(env.Status)
	switch status {
	case JobQueued, JobRunning, JobSucceeded, JobFailed:
		return status, env.Error, nil
	default:
		return "", "", fmt.Errorf("asr: unknown job status %q", env.Status)
	}
}

// Fetch implements Client.
func (c *HTTPClient) Fetch(ctx context.Context, jobID string) (*Result, error) {
	var result Result
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+jobID+"/result", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doJSON performs one request, classifying the status code per the retry
// policy: 400/422 are permanent input errors, 429 carries Retry-After, 5xx
// is transient.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("asr: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asr: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s", ErrInvalidInput, string(msg))
	case resp.StatusCode >= 500:
		return fmt.Errorf("asr: %s %s: server error %d", method, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted:
		return fmt.Errorf("asr: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("asr: decode response: %w", err)
		}
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
