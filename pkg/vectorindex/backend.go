package vectorindex

import "context"

// QueryResult is one semantic-search hit.
type QueryResult struct {
	ID       string
	Text     string
	Metadata map[string]any
	Score    float64
}

// Backend is the abstract capability set the vector index needs: sync
// (via Upsert), semantic query, list existing identifiers, batch add, and
// close. Two concrete backends satisfy it: httpBackend (the primary path,
// talking to cmd/embedserver) and stdioBackend (the legacy subprocess
// fallback).
type Backend interface {
	Heartbeat(ctx context.Context) error
	Upsert(ctx context.Context, collection string, docs []Document) error
	Query(ctx context.Context, collection, text string, topK int) ([]QueryResult, error)
	ListIDs(ctx context.Context, collection string) ([]string, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Close() error
}
