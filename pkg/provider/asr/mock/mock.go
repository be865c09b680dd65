// Package mock provides a scripted asr.Client for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/convoscope/convoscope/pkg/provider/asr"
)

// Ensure Client implements the asr.Client interface.
var _ asr.Client = (*Client)(nil)

// Client simulates the submit-and-poll job lifecycle in memory. Each
// submitted job walks through PollsBeforeDone non-terminal polls before
// reporting its scripted terminal status.
type Client struct {
	mu sync.Mutex

	// PollsBeforeDone is how many polls report "running" before the job
	// reaches its terminal status.
	PollsBeforeDone int

	// Result is returned by Fetch for every succeeded job.
	Result *asr.Result

	// FailWith, when non-empty, makes every job terminate as failed with
	// this message.
	FailWith string

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error

	jobs    map[string]*jobState
	nextID  int
	Submits []asr.JobRequest
}

type jobState struct {
	polls int
}

// New returns a mock whose jobs succeed immediately with the given result.
func New(result *asr.Result) *Client {
	return &Client{Result: result, jobs: map[string]*jobState{}}
}

// Submit implements asr.Client.
func (c *Client) Submit(ctx context.Context, req asr.JobRequest) (*asr.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return nil, c.SubmitErr
	}
	c.Submits = append(c.Submits, req)
	c.nextID++
	id := fmt.Sprintf("job-%d", c.nextID)
	c.jobs[id] = &jobState{}
	return &asr.Job{ID: id, Status: asr.JobQueued}, nil
}

// Poll implements asr.Client.
func (c *Client) Poll(ctx context.Context, jobID string) (asr.JobStatus, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	js, ok := c.jobs[jobID]
	if !ok {
		return "", "", fmt.Errorf("mock asr: unknown job %q", jobID)
	}
	if js.polls < c.PollsBeforeDone {
		js.polls++
		return asr.JobRunning, "", nil
	}
	if c.FailWith != "" {
		return asr.JobFailed, c.FailWith, nil
	}
	return asr.JobSucceeded, "", nil
}

// Fetch implements asr.Client.
func (c *Client) Fetch(ctx context.Context, jobID string) (*asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[jobID]; !ok {
		return nil, fmt.Errorf("mock asr: unknown job %q", jobID)
	}
	if c.Result == nil {
		return nil, fmt.Errorf("mock asr: no result configured")
	}
	return c.Result, nil
}
