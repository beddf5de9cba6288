// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Reply produces the response for the n-th (zero-based) request to a name.
type Reply func(req llm.Request, n int) (llm.Response, error)

// Fake answers requests by Request.Name. It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	replies  map[string]Reply
	requests []llm.Request
	counts   map[string]int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{replies: make(map[string]Reply), counts: make(map[string]int)}
}

// On sets the reply for name and returns f for chaining.
func (f *Fake) On(name string, r Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = r
	return f
}

// Text always answers name with text.
func (f *Fake) Text(name, text string) *Fake {
	return f.On(name, func(llm.Request, int) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	})
}

// Sequence answers name with texts in order, repeating the last one.
func (f *Fake) Sequence(name string, texts ...string) *Fake {
	return f.On(name, func(_ llm.Request, n int) (llm.Response, error) {
		if len(texts) == 0 {
			return llm.Response{}, fmt.Errorf("llmtest: empty sequence for %q", name)
		}
		if n >= len(texts) {
			n = len(texts) - 1
		}
		return llm.Response{Text: texts[n]}, nil
	})
}

// Generate implements llm.Generator.
func (f *Fake) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	f.mu.Lock()
	r, ok := f.replies[req.Name]
	n := f.counts[req.Name]
	f.counts[req.Name]++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if !ok {
		return llm.Response{}, fmt.Errorf("llmtest: no reply scripted for %q", req.Name)
	}
	return r(req, n)
}

// Count returns how many requests name received.
func (f *Fake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

// Requests returns the requests made to name, in order.
func (f *Fake) Requests(name string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, r := range f.requests {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// LastUserText returns the text of the last user message in req.
func LastUserText(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}
