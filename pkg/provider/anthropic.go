package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the native-SDK provider (C4). It is the only client
// that supports provider-side resume: passing a non-empty
// QueryOptions.ResumeToken skips replaying the pinned system framing and
// relies on the SDK's own conversation continuation. Every call returns a
// token callers can persist onto Session: the response id on a call made
// without a ResumeToken, or the passed ResumeToken unchanged otherwise.
type AnthropicClient struct {
	sdk       anthropic.Client
	model     string
	limiter   *Limiter
	maxTokens int64
}

// NewAnthropicClient builds a client against the given model, enforcing
// rpm inter-request spacing when rpm > 0.
func NewAnthropicClient(apiKey, model string, rpm int) *AnthropicClient {
	return &AnthropicClient{
		sdk:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		limiter:   NewLimiter(rpm),
		maxTokens: 4096,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Query(ctx context.Context, history []Message, newUserMessage string, opts QueryOptions) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, Wrap("anthropic.query", KindRetryableTransient, err)
	}

	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = 150_000
	}

	truncated := false
	msgs := history
	if opts.ResumeToken == "" {
		msgs, truncated = Truncate(history, newUserMessage, maxInput)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	if opts.ResumeToken == "" {
		for _, m := range msgs {
			params.Messages = append(params.Messages, toAnthropicMessage(m))
		}
	}
	params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(newUserMessage)))

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return Result{}, classifyAnthropicError("anthropic.query", err, opts.ResumeToken != "")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Text != "" {
			content.WriteString(block.Text)
		}
	}

	resumeToken := opts.ResumeToken
	if resumeToken == "" {
		resumeToken = resp.ID
	}

	return Result{
		Content:        content.String(),
		InputTokens:    int(resp.Usage.InputTokens),
		OutputTokens:   int(resp.Usage.OutputTokens),
		Truncated:      truncated,
		NewResumeToken: resumeToken,
	}, nil
}

func (c *AnthropicClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.sdk.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classifyAnthropicError("anthropic.list_models", err, false)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	block := anthropic.NewTextBlock(m.Content)
	if m.Role == "assistant" {
		return anthropic.NewAssistantMessage(block)
	}
	return anthropic.NewUserMessage(block)
}

// classifyAnthropicError maps the SDK's error surface onto the shared
// ErrorKind taxonomy. hadResumeToken narrows ambiguous 400s to
// terminal-resume, since only a resumed call can fail because the
// provider-side handle expired.
func classifyAnthropicError(op string, err error, hadResumeToken bool) error {
	var apiErr *anthropic.Error
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
		switch {
		case strings.Contains(msg, "context") || strings.Contains(msg, "too long") || strings.Contains(msg, "maximum"):
			return Wrap(op, KindContextOverflow, err)
		case hadResumeToken:
			return Wrap(op, KindTerminalResume, err)
		default:
			return Wrap(op, KindFatal, err)
		}
	default:
		if apiErr.StatusCode >= 500 {
			return Wrap(op, KindRetryableTransient, err)
		}
		return Wrap(op, KindFatal, err)
	}
}
