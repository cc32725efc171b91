package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v5"
	"github.com/philippgille/chromem-go"
)

type document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type queryResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// server holds the chromem-go handle shared by every request. chromem's
// DB is safe for concurrent use; idsMu guards this server's own
// collection->ID index, kept alongside chromem rather than read back out
// of it, since chromem-go's collection API is write/query-oriented and
// doesn't expose a cheap "list every ID" call.
type server struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	collectionsMu sync.Mutex

	idsMu sync.Mutex
	ids   map[string]map[string]struct{} // collection -> set of document IDs
}

func newServer(db *chromem.DB, embed chromem.EmbeddingFunc) *server {
	return &server{db: db, embed: embed, ids: make(map[string]map[string]struct{})}
}

func (s *server) collection(name string) (*chromem.Collection, error) {
	s.collectionsMu.Lock()
	defer s.collectionsMu.Unlock()
	return s.db.GetOrCreateCollection(name, nil, s.embed)
}

func (s *server) recordIDs(collection string, ids []string) {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()
	set, ok := s.ids[collection]
	if !ok {
		set = make(map[string]struct{})
		s.ids[collection] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (s *server) forgetIDs(collection string, ids []string) {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()
	set, ok := s.ids[collection]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(set, id)
	}
}

func (s *server) listIDs(collection string) []string {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()
	set := s.ids[collection]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *server) handleHeartbeat(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type upsertRequest struct {
	Collection string     `json:"collection"`
	Documents  []document `json:"documents"`
}

func (s *server) handleUpsert(c echo.Context) error {
	var req upsertRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}

	col, err := s.collection(req.Collection)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}

	docs := make([]chromem.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, chromem.Document{
			ID:       d.ID,
			Content:  d.Text,
			Metadata: stringifyMetadata(d.Metadata),
		})
	}
	if err := col.AddDocuments(c.Request().Context(), docs, 1); err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	ids := make([]string, 0, len(req.Documents))
	for _, d := range req.Documents {
		ids = append(ids, d.ID)
	}
	s.recordIDs(req.Collection, ids)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type queryRequest struct {
	Collection string `json:"collection"`
	Text       string `json:"text"`
	TopK       int    `json:"top_k"`
}

type queryResponse struct {
	Results []queryResult `json:"results"`
}

func (s *server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	col, err := s.collection(req.Collection)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}

	n := req.TopK
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return c.JSON(http.StatusOK, queryResponse{})
	}

	results, err := col.Query(c.Request().Context(), req.Text, n, nil, nil)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}

	out := make([]queryResult, 0, len(results))
	for _, r := range results {
		out = append(out, queryResult{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: unstringifyMetadata(r.Metadata),
			Score:    float64(r.Similarity),
		})
	}
	return c.JSON(http.StatusOK, queryResponse{Results: out})
}

type listIDsResponse struct {
	IDs []string `json:"ids"`
}

func (s *server) handleListIDs(c echo.Context) error {
	return c.JSON(http.StatusOK, listIDsResponse{IDs: s.listIDs(c.PathParam("collection"))})
}

type deleteRequest struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

func (s *server) handleDelete(c echo.Context) error {
	var req deleteRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	col, err := s.collection(req.Collection)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	if err := col.Delete(c.Request().Context(), nil, nil, req.IDs...); err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	s.forgetIDs(req.Collection, req.IDs)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func stringifyMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func unstringifyMetadata(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// --- legacy stdio protocol, mirrors pkg/vectorindex's stdioBackend ---

type stdioRequest struct {
	Op         string     `json:"op"`
	Collection string     `json:"collection,omitempty"`
	Documents  []document `json:"documents,omitempty"`
	Text       string     `json:"text,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	IDs        []string   `json:"ids,omitempty"`
}

type stdioResponse struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	IDs     []string      `json:"ids,omitempty"`
	Results []queryResult `json:"results,omitempty"`
}

func (s *server) runStdio(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	writer := bufio.NewWriter(out)
	ctx := context.Background()

	for scanner.Scan() {
		var req stdioRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			writeStdioResponse(writer, stdioResponse{Error: err.Error()})
			continue
		}
		writeStdioResponse(writer, s.handleStdioRequest(ctx, req))
	}
}

func (s *server) handleStdioRequest(ctx context.Context, req stdioRequest) stdioResponse {
	switch req.Op {
	case "heartbeat":
		return stdioResponse{OK: true}
	case "upsert":
		col, err := s.collection(req.Collection)
		if err != nil {
			return stdioResponse{Error: err.Error()}
		}
		docs := make([]chromem.Document, 0, len(req.Documents))
		for _, d := range req.Documents {
			docs = append(docs, chromem.Document{ID: d.ID, Content: d.Text, Metadata: stringifyMetadata(d.Metadata)})
		}
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return stdioResponse{Error: err.Error()}
		}
		ids := make([]string, 0, len(req.Documents))
		for _, d := range req.Documents {
			ids = append(ids, d.ID)
		}
		s.recordIDs(req.Collection, ids)
		return stdioResponse{OK: true}
	case "query":
		col, err := s.collection(req.Collection)
		if err != nil {
			return stdioResponse{Error: err.Error()}
		}
		n := req.TopK
		if n <= 0 {
			n = 10
		}
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			return stdioResponse{OK: true}
		}
		results, err := col.Query(ctx, req.Text, n, nil, nil)
		if err != nil {
			return stdioResponse{Error: err.Error()}
		}
		out := make([]queryResult, 0, len(results))
		for _, r := range results {
			out = append(out, queryResult{ID: r.ID, Text: r.Content, Metadata: unstringifyMetadata(r.Metadata), Score: float64(r.Similarity)})
		}
		return stdioResponse{OK: true, Results: out}
	case "list_ids":
		return stdioResponse{OK: true, IDs: s.listIDs(req.Collection)}
	case "delete":
		col, err := s.collection(req.Collection)
		if err != nil {
			return stdioResponse{Error: err.Error()}
		}
		if err := col.Delete(ctx, nil, nil, req.IDs...); err != nil {
			return stdioResponse{Error: err.Error()}
		}
		s.forgetIDs(req.Collection, req.IDs)
		return stdioResponse{OK: true}
	default:
		return stdioResponse{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func writeStdioResponse(w *bufio.Writer, resp stdioResponse) {
	if resp.Error != "" {
		resp.OK = false
	} else {
		resp.OK = true
	}
	line, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = w.Write(line)
	_, _ = w.Write([]byte("\n"))
	_ = w.Flush()
}
