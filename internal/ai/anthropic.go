package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 16000
	anthropicBetaHeader       = "interleaved-thinking-2025-05-14"
)

type AnthropicProvider struct {
	Model          string
	MaxTokens      int64
	ThinkingBudget int64

	client anthropic.Client
}

func NewAnthropicProvider(apiKey, baseURL, model string, maxTokens, thinkingBudget int64) (*AnthropicProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &AnthropicProvider{
		Model:          strings.TrimSpace(model),
		MaxTokens:      maxTokens,
		ThinkingBudget: thinkingBudget,
		client:         anthropic.NewClient(opts...),
	}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if system := toAnthropicSystem(req.Messages); len(system) > 0 {
		params.System = system
	}
	// Thinking needs at least 1024 tokens and must leave room for output.
	if p.ThinkingBudget >= 1024 && p.ThinkingBudget < p.MaxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(p.ThinkingBudget)
	}

	msg, err := p.client.Messages.New(ctx, params, option.WithHeader("anthropic-beta", anthropicBetaHeader))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			resp.Parts = append(resp.Parts, ReasoningPart(b.Thinking, b.Signature))
		case anthropic.TextBlock:
			if b.Text != "" {
				resp.Parts = append(resp.Parts, TextPart(b.Text))
			}
		case anthropic.ToolUseBlock:
			input := json.RawMessage(b.Input)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			resp.Parts = append(resp.Parts, ToolCallPart(b.ID, b.Name, input))
		}
	}
	return resp, nil
}

func toAnthropicSystem(messages []Message) []anthropic.TextBlockParam {
	var out []anthropic.TextBlockParam
	for _, m := range messages {
		if m.Role != RoleSystem {
			continue
		}
		block := anthropic.TextBlockParam{Text: TextOf(m)}
		if m.CacheMarked {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		out = append(out, block)
	}
	return out
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		if m.Content.Kind == ContentPlain {
			block := anthropic.NewTextBlock(m.Content.Text)
			if m.CacheMarked {
				markEphemeral(block)
			}
			blocks = append(blocks, block)
		} else {
			for _, p := range m.Content.Parts {
				block, ok := toAnthropicBlock(p)
				if !ok {
					continue
				}
				if p.CacheMarked {
					markEphemeral(block)
				}
				blocks = append(blocks, block)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicBlock(p Part) (anthropic.ContentBlockParamUnion, bool) {
	switch p.Type {
	case PartText:
		if p.Text == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewTextBlock(p.Text), true
	case PartReasoning:
		// Thinking blocks can only be replayed with their signature.
		if p.Signature == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewThinkingBlock(p.Signature, p.Text), true
	case PartToolCall:
		var input any = map[string]any{}
		if len(p.Input) > 0 {
			input = json.RawMessage(p.Input)
		}
		return anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName), true
	case PartToolResult:
		return anthropic.NewToolResultBlock(p.ToolCallID, p.Output, false), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// markEphemeral sets cache_control on blocks that support it; thinking
// blocks do not, and are left unmarked.
func markEphemeral(block anthropic.ContentBlockParamUnion) {
	if cc := block.GetCacheControl(); cc != nil {
		*cc = anthropic.NewCacheControlEphemeralParam()
	}
}

func toAnthropicTools(defs []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		var required []string
		if raw, ok := schema["required"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
		properties := schema["properties"]
		if properties == nil {
			properties = map[string]any{}
		}
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: properties, Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}
