package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the chat model used for answers and rewrites.
	DefaultModel = openai.ChatModelGPT4oMini

	// DefaultMaxTokens caps generated tokens per answer.
	DefaultMaxTokens = 1024

	// DefaultContextWindow is assumed for models not listed in contextWindows.
	DefaultContextWindow = 16000
)

var contextWindows = map[string]int{
	openai.ChatModelGPT4o:       128000,
	openai.ChatModelGPT4oMini:   128000,
	openai.ChatModelGPT4_1:      1047576,
	openai.ChatModelGPT4_1Mini:  1047576,
	openai.ChatModelGPT3_5Turbo: 16385,
}

// OpenAIConfig configures the OpenAI chat adapter.
type OpenAIConfig struct {
	Model         string
	MaxTokens     int
	ContextWindow int // 0 looks the model up, falling back to DefaultContextWindow
}

// OpenAI generates answers with the OpenAI chat completions API.
type OpenAI struct {
	client        *openai.Client
	model         string
	maxTokens     int
	contextWindow int
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI creates a generator with the given OpenAI client.
func NewOpenAI(client *openai.Client, cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
		if w, ok := contextWindows[cfg.Model]; ok {
			cfg.ContextWindow = w
		}
	}
	return &OpenAI{
		client:        client,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		contextWindow: cfg.ContextWindow,
	}
}

// InputBudget is the context window minus the room reserved for the answer.
func (o *OpenAI) InputBudget() int {
	return max(o.contextWindow-o.maxTokens, 0)
}

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	return openai.ChatCompletionNewParams{
		Messages:            msgs,
		Model:               o.model,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(req.Temperature),
	}
}

// Generate retries with exponential backoff on rate limit errors (HTTP 429).
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	params := o.params(req)
	var answer string

	operation := func() error {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyResponse)
		}
		answer = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", o.wrap(ctx, err)
	}
	return answer, nil
}

// Stream is not retried: tokens may already have reached the caller.
func (o *OpenAI) Stream(ctx context.Context, req Request, onToken func(string) error) (string, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		sb.WriteString(token)
		if err := onToken(token); err != nil {
			return sb.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), o.wrap(ctx, err)
	}
	return sb.String(), nil
}

func (o *OpenAI) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("chat completion: %w", ctx.Err())
	}
	if errors.Is(err, ErrEmptyResponse) {
		return err
	}
	return fmt.Errorf("%w: chat completion failed: %w", ErrUnavailable, err)
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
