package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/swarmkit/swarmkit/model"
)

// MessagesClient is the subset of *sdk.MessageService the adapter calls,
// narrowed so tests can substitute a fake without an HTTP round trip.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Provider on top of the Claude Messages API.
type AnthropicClient struct {
	msg       MessagesClient
	maxTokens int
}

// NewAnthropicClient builds a Provider from an Anthropic Messages client. The
// caller supplies maxTokens since the Messages API requires it on every
// request.
func NewAnthropicClient(msg MessagesClient, maxTokens int) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	return &AnthropicClient{msg: msg, maxTokens: maxTokens}, nil
}

// NewAnthropicClientFromAPIKey constructs a client using the SDK's default
// HTTP transport, reading auth from apiKey directly rather than the
// environment so callers control key sourcing (spec §6 config layer).
func NewAnthropicClientFromAPIKey(apiKey string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&c.Messages, maxTokens)
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Conversation == nil || len(req.Conversation.Messages) == 0 {
		return nil, errors.New("anthropic: conversation is required")
	}
	if req.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	msgs, system, err := encodeMessages(req.Conversation.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if req.SystemPrompt != "" {
		system = append([]sdk.TextBlockParam{{Text: req.SystemPrompt}}, system...)
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := encodeToolSpecs(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic messages.new: %v", ErrTransport, err)
	}
	return translateMessage(msg)
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
			continue
		case model.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Text, false),
			))
			continue
		}

		blocks := encodeParts(m)
		for _, tc := range m.ToolCalls {
			var args any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, nil, fmt.Errorf("anthropic: decode tool call %q arguments: %w", tc.ID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeParts(m *model.Message) []sdk.ContentBlockParamUnion {
	if len(m.Parts) == 0 {
		if m.Text == "" {
			return nil
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Text)}
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(tp.Text))
		}
		// ImagePart encoding is left to a future vision-enabled adapter path;
		// the engine does not yet attach images to outbound requests.
	}
	return blocks
}

func encodeToolSpecs(specs []ToolSpec) []sdk.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schemaParam := sdk.ToolInputSchemaParam{}
		if m, ok := spec.Schema.(map[string]any); ok {
			schemaParam.ExtraFields = m
		}
		u := sdk.ToolUnionParamOfTool(schemaParam, spec.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		out = append(out, u)
	}
	return out
}

func translateMessage(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	out := &model.Message{Role: model.RoleAssistant, Model: string(msg.Model)}
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: encode tool_use input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: raw,
			})
		}
	}
	if len(texts) > 0 {
		out.Text = texts[0]
		for _, t := range texts[1:] {
			out.Text += "\n" + t
		}
	}
	usage := model.TokenUsage{
		InputTokens:         int(msg.Usage.InputTokens),
		OutputTokens:        int(msg.Usage.OutputTokens),
		CachedTokens:        int(msg.Usage.CacheReadInputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	out.Usage = usage
	return &Response{Message: out, Usage: usage}, nil
}
