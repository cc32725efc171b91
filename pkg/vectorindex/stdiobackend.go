package vectorindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
)

// stdioBackend is the legacy backend: a child process speaking
// newline-delimited JSON requests/responses over stdin/stdout. It
// satisfies Backend, but Manager does not construct it: Manager.Start
// only ever uses the HTTP backend, and does not fall back to this one when
// the HTTP child server cannot be reached. One request is in flight at a
// time; callers are serialized by reqMu.
type stdioBackend struct {
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader
	reqMu  sync.Mutex
}

type stdioRequest struct {
	Op         string     `json:"op"`
	Collection string     `json:"collection,omitempty"`
	Documents  []Document `json:"documents,omitempty"`
	Text       string     `json:"text,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	IDs        []string   `json:"ids,omitempty"`
}

type stdioResponse struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	IDs     []string      `json:"ids,omitempty"`
	Results []QueryResult `json:"results,omitempty"`
}

// newStdioBackend spawns binaryPath with --data-dir dataDir and wires up
// its stdin/stdout as the JSON-line transport.
func newStdioBackend(ctx context.Context, binaryPath, dataDir string) (*stdioBackend, error) {
	cmd := exec.CommandContext(ctx, binaryPath, "--data-dir", dataDir, "--stdio")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &stdioBackend{
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdin),
		stdout: bufio.NewReader(stdout),
	}, nil
}

func (b *stdioBackend) call(req stdioRequest) (stdioResponse, error) {
	b.reqMu.Lock()
	defer b.reqMu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return stdioResponse{}, err
	}
	if _, err := b.stdin.Write(append(line, '\n')); err != nil {
		return stdioResponse{}, err
	}
	if err := b.stdin.Flush(); err != nil {
		return stdioResponse{}, err
	}

	respLine, err := b.stdout.ReadBytes('\n')
	if err != nil {
		return stdioResponse{}, err
	}
	var resp stdioResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return stdioResponse{}, err
	}
	if !resp.OK {
		return stdioResponse{}, fmt.Errorf("vectorindex: stdio backend error: %s", resp.Error)
	}
	return resp, nil
}

func (b *stdioBackend) Heartbeat(ctx context.Context) error {
	_, err := b.call(stdioRequest{Op: "heartbeat"})
	return err
}

func (b *stdioBackend) Upsert(ctx context.Context, collection string, docs []Document) error {
	_, err := b.call(stdioRequest{Op: "upsert", Collection: collection, Documents: docs})
	return err
}

func (b *stdioBackend) Query(ctx context.Context, collection, text string, topK int) ([]QueryResult, error) {
	resp, err := b.call(stdioRequest{Op: "query", Collection: collection, Text: text, TopK: topK})
	if err != nil {
		return nil, err
	}
	return dedupeByID(resp.Results), nil
}

func (b *stdioBackend) ListIDs(ctx context.Context, collection string) ([]string, error) {
	resp, err := b.call(stdioRequest{Op: "list_ids", Collection: collection})
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (b *stdioBackend) Delete(ctx context.Context, collection string, ids []string) error {
	_, err := b.call(stdioRequest{Op: "delete", Collection: collection, IDs: ids})
	return err
}

func (b *stdioBackend) Close() error {
	_ = b.cmd.Process.Kill()
	return b.cmd.Wait()
}
