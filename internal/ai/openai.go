package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, DeepSeek, local gateways).
type OpenAIProvider struct {
	Model     string
	MaxTokens int

	client *openai.Client
}

type OpenAIOptions struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// SiteURL and AppName are sent as OpenRouter attribution headers.
	SiteURL string
	AppName string
}

func NewOpenAIProvider(o OpenAIOptions) (*OpenAIProvider, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(o.Model)
	if model == "" {
		return nil, errors.New("openai: model is required")
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(o.APIKey))
	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   5 * time.Minute,
		Transport: attributionTransport{siteURL: o.SiteURL, appName: o.AppName, next: http.DefaultTransport},
	}
	return &OpenAIProvider{
		Model:     model,
		MaxTokens: o.MaxTokens,
		client:    openai.NewClientWithConfig(cfg),
	}, nil
}

type attributionTransport struct {
	siteURL string
	appName string
	next    http.RoundTripper
}

func (t attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.siteURL == "" && t.appName == "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.siteURL != "" {
		req.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.appName != "" {
		req.Header.Set("X-Title", t.appName)
	}
	return t.next.RoundTrip(req)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	creq := openai.ChatCompletionRequest{
		Model:    p.Model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	if p.MaxTokens > 0 {
		creq.MaxTokens = p.MaxTokens
	}

	out, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	choice := out.Choices[0]

	resp := &Response{
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int64(out.Usage.PromptTokens),
			OutputTokens: int64(out.Usage.CompletionTokens),
		},
	}
	if r := strings.TrimSpace(choice.Message.ReasoningContent); r != "" {
		resp.Parts = append(resp.Parts, ReasoningPart(r, ""))
	}
	if choice.Message.Content != "" {
		resp.Parts = append(resp.Parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		resp.Parts = append(resp.Parts, ToolCallPart(tc.ID, tc.Function.Name, json.RawMessage(args)))
	}
	return resp, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.Content.Kind == ContentPlain {
			out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content.Text})
			continue
		}

		switch m.Role {
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text strings.Builder
			for _, p := range m.Content.Parts {
				switch p.Type {
				case PartText:
					text.WriteString(p.Text)
				case PartToolCall:
					args := string(p.Input)
					if args == "" {
						args = "{}"
					}
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:       p.ToolCallID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: p.ToolName, Arguments: args},
					})
				}
			}
			msg.Content = text.String()
			out = append(out, msg)
		default:
			// Tool results become role=tool messages; any text rides along
			// as a regular message of the original role.
			var text strings.Builder
			for _, p := range m.Content.Parts {
				switch p.Type {
				case PartToolResult:
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    p.Output,
						ToolCallID: p.ToolCallID,
					})
				case PartText:
					text.WriteString(p.Text)
				}
			}
			if text.Len() > 0 {
				out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: text.String()})
			}
		}
	}
	return out
}

func toOpenAITools(defs []ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params := def.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
