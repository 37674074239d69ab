package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/swarmkit/swarmkit/model"
)

// ChatClient is the subset of openai.Client used by the adapter, narrowed so
// tests can substitute a fake instead of driving a real HTTP client.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type chatCompletionService struct{ client *openai.Client }

func (s chatCompletionService) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

// OpenAIClient implements Provider on top of the Chat Completions API.
type OpenAIClient struct {
	chat ChatClient
}

// NewOpenAIClient builds a Provider from a ChatClient.
func NewOpenAIClient(chat ChatClient) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &OpenAIClient{chat: chat}, nil
}

// NewOpenAIClientFromAPIKey constructs a client using the SDK's default HTTP
// transport.
func NewOpenAIClientFromAPIKey(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIClient(chatCompletionService{client: &c})
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Conversation == nil || len(req.Conversation.Messages) == 0 {
		return nil, errors.New("openai: conversation is required")
	}
	if req.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	messages, err := encodeChatMessages(req.SystemPrompt, req.Conversation.Messages)
	if err != nil {
		return nil, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if tools := encodeChatTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.chat.CreateChatCompletion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai chat.completions.new: %v", ErrTransport, err)
	}
	return translateChatCompletion(resp)
}

func encodeChatMessages(systemPrompt string, msgs []*model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if m.Text != "" {
				out = append(out, openai.SystemMessage(m.Text))
			}
		case model.RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Text, m.ToolCallID))
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Text))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Text != "" {
				asst.Content.OfString = openai.String(m.Text)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeChatTools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		params := shared.FunctionParameters{}
		if m, ok := spec.Schema.(map[string]any); ok {
			params = shared.FunctionParameters(m)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func translateChatCompletion(resp *openai.ChatCompletion) (*Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := &model.Message{Role: model.RoleAssistant, Text: choice.Message.Content, Model: resp.Model}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	usage := model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	out.Usage = usage
	return &Response{Message: out, Usage: usage}, nil
}
