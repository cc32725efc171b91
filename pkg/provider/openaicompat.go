package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatClient talks to any OpenAI-chat-completions-compatible
// endpoint (local models, third-party gateways) via a configurable base
// URL (spec's supplemented "openai_compatible" provider kind). Like
// Gemini, it never supports provider-side resume.
type OpenAICompatClient struct {
	sdk     openai.Client
	model   string
	limiter *Limiter
}

// NewOpenAICompatClient builds a client against baseURL (empty uses the
// SDK default, api.openai.com).
func NewOpenAICompatClient(apiKey, baseURL, model string, rpm int) *OpenAICompatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatClient{
		sdk:     openai.NewClient(opts...),
		model:   model,
		limiter: NewLimiter(rpm),
	}
}

func (c *OpenAICompatClient) Name() string { return "openai_compatible" }

func (c *OpenAICompatClient) Query(ctx context.Context, history []Message, newUserMessage string, opts QueryOptions) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, Wrap("openai_compatible.query", KindRetryableTransient, err)
	}

	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = 128_000
	}
	msgs, truncated := Truncate(history, newUserMessage, maxInput)

	params := openai.ChatCompletionNewParams{
		Model: c.model,
	}
	if opts.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(opts.SystemPrompt))
	}
	for _, m := range msgs {
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		} else {
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	params.Messages = append(params.Messages, openai.UserMessage(newUserMessage))

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, classifyOpenAIError("openai_compatible.query", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, Wrap("openai_compatible.query", KindFatal, errors.New("empty choices in response"))
	}

	return Result{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Truncated:    truncated,
	}, nil
}

func (c *OpenAICompatClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.sdk.Models.List(ctx)
	if err != nil {
		return nil, classifyOpenAIError("openai_compatible.list_models", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// classifyOpenAIError maps the SDK's error surface onto the shared
// ErrorKind taxonomy.
func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return Wrap(op, KindRetryableTransient, err)
	}

	switch apiErr.StatusCode {
	case 401, 403, 402:
		return Wrap(op, KindFatal, err)
	case 429:
		return Wrap(op, KindRetryableTransient, err)
	case 400:
		msg := strings.ToLower(apiErr.Error())
		if strings.Contains(msg, "context") || strings.Contains(msg, "maximum") || strings.Contains(msg, "too long") {
			return Wrap(op, KindContextOverflow, err)
		}
		return Wrap(op, KindFatal, err)
	default:
		if apiErr.StatusCode >= 500 {
			return Wrap(op, KindRetryableTransient, err)
		}
		return Wrap(op, KindFatal, err)
	}
}
