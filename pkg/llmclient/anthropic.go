package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicChatModel implements ChatModel against the Anthropic Messages
// API. Schema-constrained requests are issued as a single forced tool
// call named by the schema.
type AnthropicChatModel struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// NewAnthropicChatModel builds a chat model reading its API key from the
// named environment variable.
func NewAnthropicChatModel(model, apiKeyEnv string, temperature float64, maxTokens int) (*AnthropicChatModel, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient: environment variable %s not set", apiKeyEnv)
	}
	return &AnthropicChatModel{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		log:         slog.With("component", "llmclient.anthropic"),
	}, nil
}

func (m *AnthropicChatModel) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens, m.maxTokens)),
	}

	temp := m.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	params.Temperature = anthropic.Float(temp)

	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.System = []anthropic.TextBlockParam{{Text: msg.Content}}
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	params.Messages = messages

	if req.Schema != nil {
		params.Tools = []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        req.Schema.Name,
					Description: anthropic.String(req.Schema.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: req.Schema.Schema["properties"],
						Required:   req.Schema.Schema["required"],
					},
				},
			},
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name},
		}
	}

	m.log.DebugContext(ctx, "sending chat request", "model", m.model, "schema", req.Schema != nil)

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}

	out := &ChatResponse{}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += variant.Text
		case anthropic.ToolUseBlock:
			raw, err := json.Marshal(variant.Input)
			if err != nil {
				return nil, fmt.Errorf("llmclient: marshal tool_use input: %w", err)
			}
			out.JSON = raw
		}
	}

	if req.Schema != nil && out.JSON == nil {
		return nil, fmt.Errorf("llmclient: model returned no tool_use block for schema %q", req.Schema.Name)
	}

	return out, nil
}

func maxTokensOrDefault(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return 2048
}
