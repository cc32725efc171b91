package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/parser"
)

type fakeBackend struct {
	upserted map[string][]Document
	deleted  map[string][]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{upserted: make(map[string][]Document), deleted: make(map[string][]string)}
}

func (f *fakeBackend) Heartbeat(ctx context.Context) error { return nil }

func (f *fakeBackend) Upsert(ctx context.Context, collection string, docs []Document) error {
	f.upserted[collection] = append(f.upserted[collection], docs...)
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, collection, text string, topK int) ([]QueryResult, error) {
	return nil, nil
}

func (f *fakeBackend) ListIDs(ctx context.Context, collection string) ([]string, error) {
	var ids []string
	for _, d := range f.upserted[collection] {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (f *fakeBackend) Delete(ctx context.Context, collection string, ids []string) error {
	f.deleted[collection] = append(f.deleted[collection], ids...)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func TestManagerSyncObservationUpsertsDocuments(t *testing.T) {
	m := &Manager{backend: newFakeBackend(), healthy: true}
	err := m.SyncObservation(context.Background(), "mem-1", "proj", 9, parser.Observation{
		Narrative: "narrative text",
		Facts:     []string{"fact"},
	}, 100)
	require.NoError(t, err)

	backend := m.backend.(*fakeBackend)
	require.Len(t, backend.upserted[CollectionName("proj")], 2)
}

func TestManagerQueryReturnsEmptyWhenNotStarted(t *testing.T) {
	m := &Manager{}
	results := m.Query(context.Background(), "proj", "anything", 5)
	require.Empty(t, results)
}

func TestManagerRunMaintenanceDeletesOrphansAndPrunesOverCap(t *testing.T) {
	backend := newFakeBackend()
	m := &Manager{backend: backend}

	collection := CollectionName("proj")
	_ = backend.Upsert(context.Background(), collection, []Document{{ID: "obs_1_narrative"}, {ID: "obs_2_narrative"}})
	_ = backend.Upsert(context.Background(), "junk-collection", []Document{{ID: "x"}})

	m.RunMaintenance(context.Background(), []string{collection, "junk-collection"}, map[string][]DocumentMeta{
		collection: {
			{ID: "obs_1_narrative", DocType: "observation", SqliteID: 1, CreatedAtEpoch: 200},
			{ID: "obs_2_narrative", DocType: "observation", SqliteID: 2, CreatedAtEpoch: 100},
		},
	}, 1)

	require.Contains(t, backend.deleted["junk-collection"], "x")
	require.Contains(t, backend.deleted[collection], "obs_2_narrative")
}

func TestManagerIsHealthyReflectsCircuitState(t *testing.T) {
	m := &Manager{healthy: true}
	require.True(t, m.IsHealthy())
	m.circuitOpen = true
	require.False(t, m.IsHealthy())
}
