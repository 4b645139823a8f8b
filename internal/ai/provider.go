package ai

import (
	"context"
	"encoding/json"
)

// ToolDef describes a callable tool. InputSchema is a JSON Schema object.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

type Request struct {
	Messages []Message
	Tools    []ToolDef
}

type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Response is one assistant turn. Parts keep the order the model produced
// them in (reasoning, text, tool calls).
type Response struct {
	Parts      []Part
	StopReason string
	Usage      Usage
}

// Provider is the model capability: given the history and the tools,
// produce the next assistant turn. Tool execution and repetition belong to
// the caller.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
