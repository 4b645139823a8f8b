package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one typed content block. Which fields are meaningful depends on
// Type: Text for text and reasoning (plus Signature for reasoning),
// ToolCallID/ToolName/Input for tool calls, ToolCallID/ToolName/Output for
// tool results.
type Part struct {
	Type        PartType        `json:"type"`
	Text        string          `json:"text,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	ToolCallID  string          `json:"toolCallId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      string          `json:"output,omitempty"`
	CacheMarked bool            `json:"cacheMarked,omitempty"`
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

func ReasoningPart(text, signature string) Part {
	return Part{Type: PartReasoning, Text: text, Signature: signature}
}

func ToolCallPart(id, name string, input json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, Input: input}
}

func ToolResultPart(id, name, output string) Part {
	return Part{Type: PartToolResult, ToolCallID: id, ToolName: name, Output: output}
}

type ContentKind int

const (
	ContentPlain ContentKind = iota
	ContentParts
)

// Content is either plain text or an ordered list of parts. Kind is the
// discriminant; only the matching field is used.
type Content struct {
	Kind  ContentKind
	Text  string
	Parts []Part
}

func PlainText(s string) Content { return Content{Kind: ContentPlain, Text: s} }

func Parts(parts ...Part) Content { return Content{Kind: ContentParts, Parts: parts} }

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentPlain {
		return json.Marshal(c.Text)
	}
	parts := c.Parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(parts)
}

func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("ai: empty message content")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = PlainText(s)
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*c = Parts(parts...)
		return nil
	default:
		return fmt.Errorf("ai: message content must be a string or an array of parts")
	}
}

type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
	// CacheMarked is used only for plain-text content; part content carries
	// the marker on the individual part.
	CacheMarked bool `json:"cacheMarked,omitempty"`
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: PlainText(text)}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: PlainText(text)}
}

// ToolCalls returns the tool-call parts of an assistant message.
func (m Message) ToolCalls() []Part {
	if m.Content.Kind != ContentParts {
		return nil
	}
	var out []Part
	for _, p := range m.Content.Parts {
		if p.Type == PartToolCall {
			out = append(out, p)
		}
	}
	return out
}

// TextOf joins the text parts (or returns the plain text).
func TextOf(m Message) string {
	if m.Content.Kind == ContentPlain {
		return m.Content.Text
	}
	var b strings.Builder
	for _, p := range m.Content.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// MarshalHistory and ParseHistory are the persisted form of a chat history.
func MarshalHistory(history []Message) (string, error) {
	if history == nil {
		history = []Message{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseHistory(data string) ([]Message, error) {
	if strings.TrimSpace(data) == "" {
		return []Message{}, nil
	}
	var out []Message
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("parse chat history: %w", err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}
