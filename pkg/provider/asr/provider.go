// Package asr defines the client interface for the external speech-to-text
// service. The service follows a submit-and-poll contract: a job is created
// with a fetchable audio URL, polled until it reaches a terminal status, and
// its structured result is then retrieved once.
package asr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle status reported by the ASR service for a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobRequest describes one transcription job submission.
type JobRequest struct {
	// AudioURL is a URL the ASR service can fetch the audio from.
	AudioURL string

	// Engine selects the service's quality tier (e.g. "full").
	Engine string

	// Language is an optional ISO language hint. Empty means auto-detect.
	Language string

	// InitialPrompt primes the decoder with domain vocabulary and phrasing.
	InitialPrompt string

	// EnableDiarization requests per-speaker attribution in segments.
	EnableDiarization bool

	// EnableSummarization requests a service-side summary alongside the text.
	EnableSummarization bool

	// CustomVocabulary lists domain terms to bias recognition towards.
	CustomVocabulary []string

	// IdempotencyKey deduplicates submissions service-side. Callers use the
	// recording id so a resubmitted job lands on the same in-flight work.
	IdempotencyKey string
}

// Segment is one timed span of the transcription result.
type Segment struct {
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	AvgLogProb       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	Tokens           []int   `json:"tokens,omitempty"`
	Speaker          string  `json:"speaker,omitempty"`
}

// Result is the structured document returned by a succeeded job.
type Result struct {
	Text         string    `json:"text"`
	Segments     []Segment `json:"segments"`
	Language     string    `json:"language"`
	LanguageProb float64   `json:"language_probability"`
	Duration     float64   `json:"duration"`
	Summary      string    `json:"summary,omitempty"`
}

// Job is the submission handle returned by Submit.
type Job struct {
	ID     string
	Status JobStatus
}

// Client is the abstraction over the ASR service.
//
// Implementations must be safe for concurrent use; jobs for distinct
// recordings are routinely in flight at once.
type Client interface {
	// Submit creates a transcription job and returns its handle.
	Submit(ctx context.Context, req JobRequest) (*Job, error)

	// Poll returns the current status of a job, and the job's error message
	// when the status is failed.
	Poll(ctx context.Context, jobID string) (JobStatus, string, error)

	// Fetch retrieves the structured result of a succeeded job.
	Fetch(ctx context.Context, jobID string) (*Result, error)
}

// ErrInvalidInput marks submissions the service rejected as malformed
// (unsupported format, unreadable URL). These never succeed on retry.
var ErrInvalidInput = errors.New("asr: invalid input")

// RateLimitError is returned when the service answers 429. RetryAfter holds
// the provider-mandated wait before the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("asr: rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterHint returns the provider-mandated wait.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }
