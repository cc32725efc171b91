package processor

import (
	"context"
	"errors"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/store"
)

// rolloverFraction is the default fraction of a provider's configured max
// input tokens at which a session rolls over to a fresh provider-side
// conversation.
const rolloverFraction = 0.9

// query runs one provider call to completion, honoring every recovery
// policy a session can hit: transient retry (inside provider.Query itself
// is not enough — see below), rollover, single-shot aggressive truncation
// on context overflow, one retry after clearing a terminal-resume token,
// and the fatal-provider fallback chain. The bool return reports "skipped"
// for a second context-overflow failure in a row.
func (p *Processor) query(ctx context.Context, userMessage string) (provider.Result, bool, error) {
	contextOverflowRetried := false
	terminalResumeRetried := false

	row, err := p.deps.Store.GetSessionByID(ctx, p.sessionID)
	if err != nil {
		return provider.Result{}, false, err
	}
	resumeToken := ""
	if row.ProviderResumeToken != nil {
		resumeToken = *row.ProviderResumeToken
	}

	p.maybeRollover(ctx, row, &resumeToken)

	for {
		if !p.hasPinned() {
			p.history = append([]provider.Message{buildPinnedMessage(p.project)}, p.history...)
		}

		kind := p.currentProviderKind()
		client := p.currentProvider()
		cfg := p.deps.ProviderConfigs[kind]

		opts := provider.QueryOptions{MaxInputTokens: cfg.MaxInputTokens}
		if kind == providerKindWithResume {
			opts.ResumeToken = resumeToken
		}

		result, err := callWithRetry(ctx, client, p.history, userMessage, opts)
		if err == nil {
			p.afterSuccess(ctx, kind, result, resumeToken)
			p.history = append(p.history, provider.Message{Role: "user", Content: userMessage})
			p.history = append(p.history, provider.Message{Role: "assistant", Content: result.Content})
			return result, false, nil
		}

		if isCleanStop(err) {
			return provider.Result{}, false, err
		}

		var perr *provider.Error
		if !errors.As(err, &perr) {
			return provider.Result{}, false, err
		}

		switch perr.Kind {
		case provider.KindContextOverflow:
			if contextOverflowRetried {
				return provider.Result{}, true, nil
			}
			contextOverflowRetried = true
			p.history = aggressivelyTruncate(p.history)
			continue

		case provider.KindTerminalResume:
			if !terminalResumeRetried {
				terminalResumeRetried = true
				resumeToken = ""
				p.history = nil
				if uerr := p.deps.Store.UpdateProviderResumeToken(ctx, p.sessionID, ""); uerr != nil {
					return provider.Result{}, false, uerr
				}
				if uerr := p.deps.Store.UpdateLastInputTokens(ctx, p.sessionID, nil); uerr != nil {
					return provider.Result{}, false, uerr
				}
				continue
			}
			fallthrough

		case provider.KindFatal:
			if !p.advanceFallback() {
				return provider.Result{}, false, errFatalExhausted
			}
			resumeToken = ""
			p.history = nil
			p.deps.Sessions.SetCurrentProvider(p.sessionID, p.currentProviderKind())
			continue

		default: // retryable-transient, exhausted all attempts
			return provider.Result{}, false, err
		}
	}
}

// providerKindWithResume is the only provider kind whose client honors
// QueryOptions.ResumeToken.
const providerKindWithResume = config.ProviderAnthropic

func (p *Processor) hasPinned() bool {
	for _, m := range p.history {
		if m.Pinned {
			return true
		}
	}
	return false
}

// advanceFallback moves to the next provider in the configured chain
// (native SDK → Gemini → OpenAI-compatible) that has credentials. It
// returns false once the chain is exhausted.
func (p *Processor) advanceFallback() bool {
	for idx := p.providerIdx + 1; idx < len(p.deps.ProviderOrder); idx++ {
		kind := p.deps.ProviderOrder[idx]
		if p.deps.ProviderConfigs[kind].HasCredentials() {
			p.providerIdx = idx
			return true
		}
	}
	return false
}

// maybeRollover rolls the session over to a fresh provider-side
// conversation: before a call, if the last reported input-token count is
// at or above 90% of this provider's
// configured max, clear the resume token and history so the next call
// starts a fresh provider-side session while memory_session_id persists.
func (p *Processor) maybeRollover(ctx context.Context, row *store.Session, resumeToken *string) {
	if row.LastInputTokens == nil || *resumeToken == "" {
		return
	}
	cfg := p.deps.ProviderConfigs[providerKindWithResume]
	if cfg.MaxInputTokens == 0 {
		return
	}
	threshold := int(float64(cfg.MaxInputTokens) * rolloverFraction)
	if *row.LastInputTokens < threshold {
		return
	}
	*resumeToken = ""
	p.history = nil
	_ = p.deps.Store.UpdateProviderResumeToken(ctx, p.sessionID, "")
	_ = p.deps.Store.UpdateLastInputTokens(ctx, p.sessionID, nil)
}

// afterSuccess persists the bookkeeping a successful call updates:
// current provider (if it changed via the fallback chain), the resume
// token returned by a native-SDK call, and the latest input-token count
// rollover watches.
func (p *Processor) afterSuccess(ctx context.Context, kind config.ProviderKind, result provider.Result, priorResumeToken string) {
	if kind == providerKindWithResume && result.NewResumeToken != priorResumeToken {
		_ = p.deps.Store.UpdateProviderResumeToken(ctx, p.sessionID, result.NewResumeToken)
	}
	tokens := result.InputTokens
	_ = p.deps.Store.UpdateLastInputTokens(ctx, p.sessionID, &tokens)
}

// callWithRetry wraps one provider call with the shared transient-error
// backoff schedule, surfacing the query's Result by reference
// since backoff.Retry only threads an error back to its caller.
func callWithRetry(ctx context.Context, client provider.Client, history []provider.Message, userMessage string, opts provider.QueryOptions) (provider.Result, error) {
	var result provider.Result
	err := provider.RetryTransient(ctx, func(ctx context.Context) error {
		r, err := client.Query(ctx, history, userMessage, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// aggressivelyTruncate reduces history to {pinned, current user} as the
// second-failure fallback on repeated context overflow — here applied
// directly since the current user turn hasn't been appended to history
// yet at call time.
func aggressivelyTruncate(history []provider.Message) []provider.Message {
	kept := make([]provider.Message, 0, 1)
	for _, m := range history {
		if m.Pinned {
			kept = append(kept, m)
		}
	}
	return kept
}
