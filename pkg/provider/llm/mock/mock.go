// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/convoscope/convoscope/pkg/provider/llm"
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted mock. Each call to Complete pops the next queued
// response; when the queue is empty it returns Fallback (or an empty reply).
// Errors queued via QueueError are returned in order alongside responses.
type Provider struct {
	mu        sync.Mutex
	queue     []step
	requests  []llm.CompletionRequest
	Fallback  string
	ModelName string
}

type step struct {
	content string
	err     error
}

// New returns an empty mock with the given model name.
func New(modelName string) *Provider {
	return &Provider{ModelName: modelName}
}

// Queue appends a successful response to the script.
func (p *Provider) Queue(content string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, step{content: content})
	return p
}

// QueueError appends a failing call to the script.
func (p *Provider) QueueError(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, step{err: err})
	return p
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.queue) == 0 {
		return &llm.CompletionResponse{Content: p.Fallback}, nil
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.CompletionResponse{Content: next.content}, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string { return p.ModelName }
