package provider

import "context"

// QueryOptions carries the per-call knobs every provider client honors.
// ResumeToken, when set, asks the native-SDK client to continue a prior
// provider-side conversation instead of replaying full history (spec
// §4.4); REST clients ignore it and always replay History.
type QueryOptions struct {
	SystemPrompt   string
	ResumeToken    string
	MaxInputTokens int
}

// Result is what a provider client returns for one query, whether or not
// truncation was needed to fit the request.
type Result struct {
	Content         string
	InputTokens     int
	OutputTokens    int
	Truncated       bool
	NewResumeToken  string // updated provider-side handle, native SDK only
}

// Client is the single contract all three provider implementations
// satisfy (native Anthropic SDK, Gemini REST, OpenAI-compatible REST),
// called directly in-process rather than through a separate service
// boundary. Every blocking call takes a
// context so the processor's cooperative-stop and idle-timeout paths can
// cancel a request in flight.
type Client interface {
	// Query sends history plus newUserMessage and returns the model's
	// reply. Implementations classify every failure into a *Error with
	// the ErrorKind taxonomy in errors.go.
	Query(ctx context.Context, history []Message, newUserMessage string, opts QueryOptions) (Result, error)

	// Name identifies the provider for logging and the /api/status
	// surface (e.g. "anthropic", "gemini", "openai_compatible").
	Name() string

	// ListModels returns the provider's available model identifiers for
	// the /api/models proxy.
	ListModels(ctx context.Context) ([]string, error)
}
