package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpBackend is the primary Backend implementation: an in-process HTTP
// client against the child embedding server (cmd/embedserver), which
// wraps github.com/philippgille/chromem-go.
type httpBackend struct {
	addr   string
	client *http.Client
}

// newHTTPBackend builds a client against the embedding server at addr
// (e.g. "127.0.0.1:8799").
func newHTTPBackend(addr string) *httpBackend {
	return &httpBackend{
		addr:   addr,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *httpBackend) url(path string) string {
	return fmt.Sprintf("http://%s%s", b.addr, path)
}

func (b *httpBackend) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url("/heartbeat"), nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vectorindex: heartbeat returned %d", resp.StatusCode)
	}
	return nil
}

type upsertRequest struct {
	Collection string     `json:"collection"`
	Documents  []Document `json:"documents"`
}

func (b *httpBackend) Upsert(ctx context.Context, collection string, docs []Document) error {
	const chunkSize = 100
	for start := 0; start < len(docs); start += chunkSize {
		end := start + chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := b.upsertChunk(ctx, collection, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *httpBackend) upsertChunk(ctx context.Context, collection string, docs []Document) error {
	body, err := json.Marshal(upsertRequest{Collection: collection, Documents: docs})
	if err != nil {
		return err
	}
	return b.post(ctx, "/upsert", body, nil)
}

type queryRequest struct {
	Collection string `json:"collection"`
	Text       string `json:"text"`
	TopK       int    `json:"top_k"`
}

type queryResponse struct {
	Results []QueryResult `json:"results"`
}

func (b *httpBackend) Query(ctx context.Context, collection, text string, topK int) ([]QueryResult, error) {
	body, err := json.Marshal(queryRequest{Collection: collection, Text: text, TopK: topK})
	if err != nil {
		return nil, err
	}
	var out queryResponse
	if err := b.post(ctx, "/query", body, &out); err != nil {
		return nil, err
	}
	return dedupeByID(out.Results), nil
}

// dedupeByID post-processes query results to deduplicate by identifier,
// keeping the highest-scoring occurrence of each id.
func dedupeByID(results []QueryResult) []QueryResult {
	seen := make(map[string]int, len(results))
	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		if idx, ok := seen[r.ID]; ok {
			if r.Score > out[idx].Score {
				out[idx] = r
			}
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

type listIDsResponse struct {
	IDs []string `json:"ids"`
}

func (b *httpBackend) ListIDs(ctx context.Context, collection string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url("/collections/"+collection+"/ids"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vectorindex: list ids returned %d", resp.StatusCode)
	}
	var out listIDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

type deleteRequest struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

func (b *httpBackend) Delete(ctx context.Context, collection string, ids []string) error {
	body, err := json.Marshal(deleteRequest{Collection: collection, IDs: ids})
	if err != nil {
		return err
	}
	return b.post(ctx, "/delete", body, nil)
}

func (b *httpBackend) Close() error { return nil }

func (b *httpBackend) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vectorindex: %s returned %d: %s", path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
