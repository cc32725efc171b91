package provider

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is a REST-backed provider client. It never supports
// provider-side resume, so every call
// replays truncated history in full and QueryOptions.ResumeToken is
// ignored.
type GeminiClient struct {
	sdk     *genai.Client
	model   string
	limiter *Limiter
}

// NewGeminiClient builds a client against the given model.
func NewGeminiClient(ctx context.Context, apiKey, model string, rpm int) (*GeminiClient, error) {
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, Wrap("gemini.new_client", KindFatal, err)
	}
	return &GeminiClient{sdk: sdk, model: model, limiter: NewLimiter(rpm)}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Query(ctx context.Context, history []Message, newUserMessage string, opts QueryOptions) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, Wrap("gemini.query", KindRetryableTransient, err)
	}

	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = 150_000
	}
	msgs, truncated := Truncate(history, newUserMessage, maxInput)

	contents := make([]*genai.Content, 0, len(msgs)+1)
	for _, m := range msgs {
		contents = append(contents, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(newUserMessage)},
	})

	cfg := &genai.GenerateContentConfig{}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(opts.SystemPrompt)}}
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return Result{}, classifyGeminiError("gemini.query", err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}

	result := Result{Content: text.String(), Truncated: truncated}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	pager, err := c.sdk.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return nil, classifyGeminiError("gemini.list_models", err)
	}
	for _, m := range pager.Items {
		ids = append(ids, m.Name)
	}
	return ids, nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// classifyGeminiError maps the genai client's error surface onto the
// shared ErrorKind taxonomy using the APIError status the SDK wraps HTTP
// responses in.
func classifyGeminiError(op string, err error) error {
	var apiErr genai.APIError
	msg := strings.ToLower(err.Error())
	if ok := asGenaiAPIError(err, &apiErr); ok {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return Wrap(op, KindFatal, err)
		case apiErr.Code == 429:
			return Wrap(op, KindRetryableTransient, err)
		case apiErr.Code >= 500:
			return Wrap(op, KindRetryableTransient, err)
		case strings.Contains(strings.ToLower(apiErr.Message), "token"):
			return Wrap(op, KindContextOverflow, err)
		}
		return Wrap(op, KindFatal, err)
	}
	if strings.Contains(msg, "context") || strings.Contains(msg, "token") {
		return Wrap(op, KindContextOverflow, err)
	}
	return Wrap(op, KindRetryableTransient, err)
}

func asGenaiAPIError(err error, target *genai.APIError) bool {
	apiErr, ok := err.(genai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
