package processor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
	"github.com/sessionmemory/worker/pkg/writer"
)

type fakeResponse struct {
	result provider.Result
	err    error
}

// fakeClient replays a fixed script of responses/errors in order, holding
// on the last entry once exhausted.
type fakeClient struct {
	name    string
	script  []fakeResponse
	calls   int
	queries []string // newUserMessage of every call, for assertions
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Query(ctx context.Context, history []provider.Message, newUserMessage string, opts provider.QueryOptions) (provider.Result, error) {
	f.queries = append(f.queries, newUserMessage)
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return f.script[idx].result, f.script[idx].err
}

func (f *fakeClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	c, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

const xmlObservation = `<observation><type>discovery</type><title>found it</title><narrative>did a thing</narrative></observation>`

func newTestDeps(t *testing.T, s *store.Client, sessions *session.Manager, clients map[config.ProviderKind]*fakeClient, order []config.ProviderKind) Deps {
	t.Helper()
	providers := make(map[config.ProviderKind]provider.Client, len(clients))
	cfgs := make(map[config.ProviderKind]config.ProviderConfig, len(clients))
	for kind, c := range clients {
		providers[kind] = c
		cfgs[kind] = config.ProviderConfig{APIKey: "key-" + string(kind), MaxInputTokens: 100_000}
	}
	q := queue.New(s, sessions)
	w := writer.New(s, sessions, nil)
	return Deps{
		Store:           s,
		Queue:           q,
		Sessions:        sessions,
		Writer:          w,
		Providers:       providers,
		ProviderOrder:   order,
		ProviderConfigs: cfgs,
	}
}

func setupSession(t *testing.T, s *store.Client, sessions *session.Manager, provider config.ProviderKind) (*store.Session, *Processor, context.CancelFunc) {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateOrGetSession(ctx, "content-1", "proj")
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(ctx)
	st, err := sessions.Register(cancelCtx, sess.SessionID, cancel, provider)
	require.NoError(t, err)

	return sess, &Processor{
		sessionID:        sess.SessionID,
		contentSessionID: st.ContentSessionID,
		project:          st.Project,
		cancel:           cancel,
	}, cancel
}

func TestProcessorCommitsObservationOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	client := &fakeClient{name: "anthropic", script: []fakeResponse{{result: provider.Result{Content: xmlObservation, InputTokens: 10}}}}
	deps := newTestDeps(t, s, sessions, map[config.ProviderKind]*fakeClient{config.ProviderAnthropic: client}, []config.ProviderKind{config.ProviderAnthropic})

	sess, p, cancel := setupSession(t, s, sessions, config.ProviderAnthropic)
	defer cancel()
	p.deps = deps

	require.NoError(t, p.ensureMemorySessionID(ctx))

	messageID, err := deps.Queue.Enqueue(ctx, sess.SessionID, "content-1", "/tmp/proj", queue.ObservationPayload{
		Kind: queue.KindObservation, ToolName: "Read", ToolInput: "file.go",
	})
	require.NoError(t, err)
	item, err := deps.Queue.Claim(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, messageID, item.ID)

	stop, err := p.processItem(ctx, item)
	require.NoError(t, err)
	require.False(t, stop)

	snap, ok := sessions.Snapshot(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, 0, snap.InFlightCount)
	require.Equal(t, 1, client.calls)
}

func TestProcessorFallsBackOnFatalProviderError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	primary := &fakeClient{name: "anthropic", script: []fakeResponse{{err: provider.Wrap("anthropic.query", provider.KindFatal, errors.New("auth failed"))}}}
	fallback := &fakeClient{name: "gemini", script: []fakeResponse{{result: provider.Result{Content: xmlObservation, InputTokens: 5}}}}
	deps := newTestDeps(t, s, sessions,
		map[config.ProviderKind]*fakeClient{config.ProviderAnthropic: primary, config.ProviderGemini: fallback},
		[]config.ProviderKind{config.ProviderAnthropic, config.ProviderGemini})

	sess, p, cancel := setupSession(t, s, sessions, config.ProviderAnthropic)
	defer cancel()
	p.deps = deps
	require.NoError(t, p.ensureMemorySessionID(ctx))

	messageID, err := deps.Queue.Enqueue(ctx, sess.SessionID, "content-1", "/tmp/proj", queue.SummarizePayload{
		Kind: queue.KindSummarize, LastAssistantMessage: "wrapping up",
	})
	require.NoError(t, err)
	item, err := deps.Queue.Claim(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, messageID, item.ID)

	stop, err := p.processItem(ctx, item)
	require.NoError(t, err)
	require.False(t, stop)

	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
	require.Equal(t, 1, p.providerIdx)

	snap, ok := sessions.Snapshot(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, config.ProviderGemini, snap.CurrentProvider)
}

func TestProcessorAbandonsSessionWhenFallbackExhausted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	primary := &fakeClient{name: "anthropic", script: []fakeResponse{{err: provider.Wrap("anthropic.query", provider.KindFatal, errors.New("quota exhausted"))}}}
	deps := newTestDeps(t, s, sessions, map[config.ProviderKind]*fakeClient{config.ProviderAnthropic: primary}, []config.ProviderKind{config.ProviderAnthropic})

	sess, p, cancel := setupSession(t, s, sessions, config.ProviderAnthropic)
	defer cancel()
	p.deps = deps
	require.NoError(t, p.ensureMemorySessionID(ctx))

	_, err := deps.Queue.Enqueue(ctx, sess.SessionID, "content-1", "/tmp/proj", queue.SummarizePayload{
		Kind: queue.KindSummarize, LastAssistantMessage: "done",
	})
	require.NoError(t, err)
	item, err := deps.Queue.Claim(ctx, sess.SessionID)
	require.NoError(t, err)

	stop, err := p.processItem(ctx, item)
	require.NoError(t, err)
	require.True(t, stop)

	_, ok := sessions.Snapshot(sess.SessionID)
	require.False(t, ok)
}

func TestProcessorSkipsOnSecondContextOverflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	overflow := provider.Wrap("anthropic.query", provider.KindContextOverflow, errors.New("too long"))
	client := &fakeClient{name: "anthropic", script: []fakeResponse{{err: overflow}, {err: overflow}}}
	deps := newTestDeps(t, s, sessions, map[config.ProviderKind]*fakeClient{config.ProviderAnthropic: client}, []config.ProviderKind{config.ProviderAnthropic})

	sess, p, cancel := setupSession(t, s, sessions, config.ProviderAnthropic)
	defer cancel()
	p.deps = deps
	require.NoError(t, p.ensureMemorySessionID(ctx))

	messageID, err := deps.Queue.Enqueue(ctx, sess.SessionID, "content-1", "/tmp/proj", queue.ObservationPayload{
		Kind: queue.KindObservation, ToolName: "Read",
	})
	require.NoError(t, err)
	item, err := deps.Queue.Claim(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, messageID, item.ID)

	stop, err := p.processItem(ctx, item)
	require.NoError(t, err)
	require.False(t, stop)
	require.Equal(t, 2, client.calls)

	snap, ok := sessions.Snapshot(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, 0, snap.InFlightCount)
}

func TestPromptForPayloadDecodesBothKinds(t *testing.T) {
	obsItem := &store.PendingMessage{PayloadJSON: `{"kind":"observation","tool_name":"Read","tool_input":"x.go"}`}
	text, err := promptForPayload(obsItem)
	require.NoError(t, err)
	require.Contains(t, text, "Read")

	sumItem := &store.PendingMessage{PayloadJSON: `{"kind":"summarize","last_assistant_message":"all done"}`}
	text, err = promptForPayload(sumItem)
	require.NoError(t, err)
	require.Contains(t, text, "all done")

	_, err = promptForPayload(&store.PendingMessage{PayloadJSON: `{"kind":"unknown"}`})
	require.Error(t, err)
}
