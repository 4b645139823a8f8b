package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/specforge/internal/ai"
)

type EventType string

const (
	UserMessage EventType = "userMessage"
	AIMessage   EventType = "aiMessage"
	AIReasoning EventType = "aiReasoning"
	ToolCall    EventType = "toolCall"
	ToolResult  EventType = "toolResult"
)

type Agent string

const (
	AgentChat          Agent = "chat"
	AgentCodeGenerator Agent = "codeGenerator"
)

// ChatEvent is one entry of the user-visible timeline. Timestamp is unix ms.
type ChatEvent struct {
	EventType EventType `json:"eventType"`
	Markdown  string    `json:"markdown"`
	Timestamp int64     `json:"timestamp"`
	Agent     Agent     `json:"agent"`
}

func New(t EventType, markdown string, agent Agent, now time.Time) ChatEvent {
	return ChatEvent{EventType: t, Markdown: markdown, Timestamp: now.UnixMilli(), Agent: agent}
}

// UserEvent records a user turn with any injected context blocks removed.
func UserEvent(raw string, agent Agent, now time.Time) ChatEvent {
	return New(UserMessage, StripContextTags(raw), agent, now)
}

// StepEvents converts one model step into events: reasoning first, then
// text, then every tool call, then every tool result.
func StepEvents(response []ai.Part, results []ai.Part, agent Agent, now time.Time) []ChatEvent {
	var out []ChatEvent
	for _, p := range response {
		if p.Type == ai.PartReasoning && strings.TrimSpace(p.Text) != "" {
			out = append(out, New(AIReasoning, p.Text, agent, now))
		}
	}
	for _, p := range response {
		if p.Type == ai.PartText && strings.TrimSpace(p.Text) != "" {
			out = append(out, New(AIMessage, p.Text, agent, now))
		}
	}
	for _, p := range response {
		if p.Type == ai.PartToolCall {
			out = append(out, New(ToolCall, ToolCallMarkdown(p.ToolName, p.Input), agent, now))
		}
	}
	for _, p := range results {
		if p.Type == ai.PartToolResult {
			out = append(out, New(ToolResult, ToolResultMarkdown(p.ToolName, p.Output), agent, now))
		}
	}
	return out
}

func ToolCallMarkdown(name string, args json.RawMessage) string {
	body := "{}"
	if len(bytes.TrimSpace(args)) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, args, "", "  "); err == nil {
			body = buf.String()
		} else {
			body = string(args)
		}
	}
	return fmt.Sprintf("### Tool call: `%s`\n\n```json\n%s\n```", name, EscapeFences(body))
}

func ToolResultMarkdown(name string, result any) string {
	var body string
	switch v := result.(type) {
	case string:
		body = v
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			body = fmt.Sprint(v)
		} else {
			body = string(b)
		}
	}
	return fmt.Sprintf("### Tool result: `%s`\n\n```\n%s\n```", name, EscapeFences(body))
}

// EscapeFences escapes literal triple backticks so embedded payloads cannot
// close the surrounding fenced block.
func EscapeFences(s string) string {
	return strings.ReplaceAll(s, "```", "\\`\\`\\`")
}

const contextTag = "additional-context"

// StripContextTags removes every exact <additional-context>...</additional-context>
// pair and trims the result. An open tag without a matching close stops
// stripping and is left as is.
func StripContextTags(s string) string {
	open := "<" + contextTag + ">"
	closeTag := "</" + contextTag + ">"
	for {
		start := strings.Index(s, open)
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], closeTag)
		if end < 0 {
			break
		}
		s = s[:start] + s[start+end+len(closeTag):]
	}
	return strings.TrimSpace(s)
}
