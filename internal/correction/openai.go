package correction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIOptions configures the chat-completions corrector.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

// OpenAI corrects text with one chat completion.
type OpenAI struct {
	client oai.Client
	model  string
}

// NewOpenAI builds a corrector. BaseURL may point at any compatible server.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAI{client: oai.NewClient(reqOpts...), model: opts.Model}, nil
}

// Correct sends the system prompt, prior turns as user/assistant pairs, and
// the text to correct.
func (c *OpenAI) Correct(ctx context.Context, req Request) (string, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, 2+2*len(req.PriorTurns))
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		messages = append(messages, oai.SystemMessage(prompt))
	}
	for _, turn := range req.PriorTurns {
		messages = append(messages, oai.UserMessage(turn.Input), oai.AssistantMessage(turn.Output))
	}
	messages = append(messages, oai.UserMessage(req.Text))

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return req.Text, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return req.Text, fmt.Errorf("openai: %w: empty choices", ErrShape)
	}

	out := stripFences(resp.Choices[0].Message.Content)
	if out == "" {
		return req.Text, fmt.Errorf("openai: %w", ErrShape)
	}
	return out, nil
}
