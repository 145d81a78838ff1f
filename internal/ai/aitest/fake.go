// Package aitest provides a scripted ai.Provider for tests.
package aitest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sprite-ai/fixrev/internal/ai"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Reply is one scripted provider answer.
type Reply struct {
	Text  string
	Err   error
	Usage model.Usage
	// Delay blocks the call for this long, honoring ctx.
	Delay time.Duration
}

// Provider replays scripted replies. Respond, when set, takes precedence
// over the Replies queue and lets a test answer based on the prompt.
type Provider struct {
	ModelName string
	Respond   func(req ai.Request) Reply

	mu       sync.Mutex
	Replies  []Reply
	Requests []ai.Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) Model() string {
	if p.ModelName == "" {
		return "fake-model"
	}
	return p.ModelName
}

// Complete returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req ai.Request) (ai.Completion, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	var r Reply
	switch {
	case p.Respond != nil:
		p.mu.Unlock()
		r = p.Respond(req)
	case len(p.Replies) > 0:
		r = p.Replies[0]
		p.Replies = p.Replies[1:]
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		r = Reply{Text: "{}"}
	}

	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ai.Completion{Model: p.Model(), Usage: r.Usage}, ctx.Err()
		case <-t.C:
		}
	}

	return ai.Completion{Text: r.Text, Model: p.Model(), Usage: r.Usage}, r.Err
}

// Calls returns the number of Complete invocations.
func (p *Provider) Calls() int { return int(p.calls.Load()) }

// MaxInFlight returns the highest observed number of concurrent calls.
func (p *Provider) MaxInFlight() int { return int(p.maxInFlight.Load()) }
