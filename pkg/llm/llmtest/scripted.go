// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/user/chatagent/pkg/llm"
)

// ErrScripted is the failure injected by a Provider when FailAfter or
// CompleteErr is used without a custom error.
var ErrScripted = errors.New("scripted backend failure")

// Provider replays canned completions and stream fragments, recording the
// message lists it was called with.
type Provider struct {
	// Responses are returned by Complete in order; once exhausted Complete
	// returns a plain "fallback" reply.
	Responses []*llm.Response
	// CompleteErr, when set, is returned by every Complete call.
	CompleteErr error

	// Fragments are yielded by Stream in order.
	Fragments []string
	// FailAfter, when positive, makes Stream fail after yielding that many
	// fragments. Zero means no failure, negative means fail before the first.
	FailAfter int
	// StreamErr overrides the error injected by FailAfter.
	StreamErr error

	mu         sync.Mutex
	calls      [][]llm.Message
	streamCall [][]llm.Message
	pulled     int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.calls)
	p.calls = append(p.calls, llm.CloneMessages(messages))
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if idx < len(p.Responses) {
		return p.Responses[idx], nil
	}
	return &llm.Response{Content: "fallback"}, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, _ []llm.Tool) iter.Seq2[llm.Delta, error] {
	p.mu.Lock()
	p.streamCall = append(p.streamCall, llm.CloneMessages(messages))
	p.mu.Unlock()

	return func(yield func(llm.Delta, error) bool) {
		failErr := p.StreamErr
		if failErr == nil {
			failErr = ErrScripted
		}
		if p.FailAfter < 0 {
			yield(llm.Delta{}, failErr)
			return
		}
		for i, frag := range p.Fragments {
			if p.FailAfter > 0 && i == p.FailAfter {
				yield(llm.Delta{}, failErr)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(llm.Delta{}, err)
				return
			}
			p.mu.Lock()
			p.pulled++
			p.mu.Unlock()
			if !yield(llm.Delta{Content: frag}, nil) {
				return
			}
		}
	}
}

// Calls returns the message lists passed to Complete so far.
func (p *Provider) Calls() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.Message(nil), p.calls...)
}

// StreamCalls returns the message lists passed to Stream so far.
func (p *Provider) StreamCalls() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.Message(nil), p.streamCall...)
}

// Pulled reports how many fragments consumers have pulled from Stream.
func (p *Provider) Pulled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulled
}
