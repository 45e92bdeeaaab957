package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client is the AI classification service as seen by the orchestrator.  Chat
// accepts the full message list and returns the assistant's raw reply; the
// caller validates the reply with the Decode functions.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Options configures an OpenAIClient.  BaseURL may point at any
// OpenAI-compatible gateway.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNotConfigured is returned by a client constructed without an API key.
var ErrNotConfigured = errors.New("openai client not configured")

// OpenAIClient calls the chat completions API and requests JSON output.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs an OpenAI-backed client.  It returns nil when no
// API key is configured so callers can run on the rule-based path alone.
func NewOpenAIClient(opts Options) *OpenAIClient {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Chat sends the messages to the chat completion API and returns the
// assistant's response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
