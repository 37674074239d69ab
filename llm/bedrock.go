package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/swarmkit/swarmkit/model"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter calls.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Provider on top of the Bedrock Converse API.
type BedrockClient struct {
	runtime RuntimeClient
}

// NewBedrockClient builds a Provider from a Bedrock runtime client.
func NewBedrockClient(runtime RuntimeClient) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &BedrockClient{runtime: runtime}, nil
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Conversation == nil || len(req.Conversation.Messages) == 0 {
		return nil, errors.New("bedrock: conversation is required")
	}
	if req.Model == "" {
		return nil, errors.New("bedrock: model is required")
	}
	messages, system, err := encodeConverseMessages(req.Conversation.Messages)
	if err != nil {
		return nil, err
	}
	if req.SystemPrompt != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}, system...)
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig := encodeConverseTools(req.Tools); toolConfig != nil {
		input.ToolConfig = toolConfig
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: bedrock converse throttled: %v", ErrTransport, err)
		}
		return nil, fmt.Errorf("%w: bedrock converse: %v", ErrTransport, err)
	}
	return translateConverseOutput(output)
}

func encodeConverseMessages(msgs []*model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if m.Text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			}
			continue
		case model.RoleTool:
			conversation = append(conversation, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content: []brtypes.ToolResultContentBlock{
							&brtypes.ToolResultContentBlockMemberText{Value: m.Text},
						},
					}},
				},
			})
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls))
		if m.Text != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Text})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     toDocument(tc.Arguments),
			}})
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeConverseTools(specs []ToolSpec) *brtypes.ToolConfiguration {
	if len(specs) == 0 {
		return nil
	}
	toolList := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		var schemaDoc any
		if m, ok := spec.Schema.(map[string]any); ok {
			schemaDoc = m
		} else {
			schemaDoc = map[string]any{"type": "object"}
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(spec.Name),
			Description: aws.String(spec.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schemaDoc)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func toDocument(raw json.RawMessage) document.Interface {
	var v any = map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return document.NewLazyDocument(&v)
}

func translateConverseOutput(output *bedrockruntime.ConverseOutput) (*Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	out := &model.Message{Role: model.RoleAssistant}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: response output is not a message")
	}
	var texts []string
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value != "" {
				texts = append(texts, v.Value)
			}
		case *brtypes.ContentBlockMemberToolUse:
			raw, err := decodeDocument(v.Value.Input)
			if err != nil {
				return nil, fmt.Errorf("bedrock: decode tool_use input: %w", err)
			}
			var id, name string
			if v.Value.ToolUseId != nil {
				id = *v.Value.ToolUseId
			}
			if v.Value.Name != nil {
				name = *v.Value.Name
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: id, Name: name, Arguments: raw})
		}
	}
	if len(texts) > 0 {
		out.Text = texts[0]
		for _, t := range texts[1:] {
			out.Text += "\n" + t
		}
	}
	usage := model.TokenUsage{}
	if u := output.Usage; u != nil {
		usage.InputTokens = int(ptrValue(u.InputTokens))
		usage.OutputTokens = int(ptrValue(u.OutputTokens))
		usage.CachedTokens = int(ptrValue(u.CacheReadInputTokens))
		usage.CacheCreationTokens = int(ptrValue(u.CacheWriteInputTokens))
	}
	out.Usage = usage
	return &Response{Message: out, Usage: usage}, nil
}

func decodeDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// isThrottled reports whether err represents a Bedrock throttling response,
// grounded on the same smithy.APIError / HTTP 429 check the teacher's bedrock
// adapter performs before surfacing an error to the engine.
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}
