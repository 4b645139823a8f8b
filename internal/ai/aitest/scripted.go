// Package aitest provides a scripted ai.Provider for tests.
package aitest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/suPer8Hu/specforge/internal/ai"
)

var ErrScriptExhausted = errors.New("aitest: script exhausted")

// Provider replays scripted responses in order and records every request.
// When the script runs out it returns Fallback, or ErrScriptExhausted if
// Fallback is nil.
type Provider struct {
	mu       sync.Mutex
	script   []*ai.Response
	errs     map[int]error
	requests []ai.Request

	Fallback *ai.Response
}

func New(responses ...*ai.Response) *Provider {
	return &Provider{script: responses, errs: map[int]error{}}
}

// FailAt makes call n (zero-based) return err.
func (p *Provider) FailAt(n int, err error) *Provider {
	p.mu.Lock()
	p.errs[n] = err
	p.mu.Unlock()
	return p
}

func (p *Provider) Complete(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.requests)
	// copy to avoid later mutations of the caller's history
	msgs, err := ai.MarshalHistory(req.Messages)
	if err != nil {
		return nil, err
	}
	snapshot, err := ai.ParseHistory(msgs)
	if err != nil {
		return nil, err
	}
	p.requests = append(p.requests, ai.Request{Messages: snapshot, Tools: req.Tools})

	if err := p.errs[n]; err != nil {
		return nil, err
	}
	if n < len(p.script) {
		return p.script[n], nil
	}
	if p.Fallback != nil {
		return p.Fallback, nil
	}
	return nil, fmt.Errorf("%w after %d calls", ErrScriptExhausted, n)
}

func (p *Provider) Requests() []ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ai.Request(nil), p.requests...)
}

func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Text is a final answer with no tool calls.
func Text(s string) *ai.Response {
	return &ai.Response{Parts: []ai.Part{ai.TextPart(s)}, StopReason: "end_turn"}
}

// Call requests a single tool call; args is marshaled to JSON.
func Call(id, tool string, args any) *ai.Response {
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return &ai.Response{
		Parts:      []ai.Part{ai.ToolCallPart(id, tool, b)},
		StopReason: "tool_use",
	}
}

// WriteFile is shorthand for a writeFile tool call.
func WriteFile(id, path, content string) *ai.Response {
	return Call(id, "writeFile", map[string]string{"path": path, "content": content})
}
