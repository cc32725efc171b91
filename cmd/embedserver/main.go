// Command embedserver is the child embedding server the Vector Index
// Manager (C3) lifecycles and talks to over HTTP. It wraps
// github.com/philippgille/chromem-go as an embedded, persistent vector
// store, keeping every collection on disk under --data-dir so restarts
// never lose embeddings.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/philippgille/chromem-go"
)

const shutdownTimeout = 5 * time.Second

func main() {
	dataDir := flag.String("data-dir", "", "directory to persist vector collections")
	addr := flag.String("addr", "127.0.0.1:8799", "address to listen on")
	stdio := flag.Bool("stdio", false, "speak the legacy newline-delimited JSON protocol over stdin/stdout instead of HTTP")
	flag.Parse()

	if *dataDir == "" {
		slog.Error("embedserver: --data-dir is required")
		os.Exit(1)
	}

	db, err := chromem.NewPersistentDB(*dataDir, false)
	if err != nil {
		slog.Error("embedserver: opening persistent store failed", "error", err)
		os.Exit(1)
	}

	srv := newServer(db, embeddingFunc())

	if *stdio {
		srv.runStdio(os.Stdin, os.Stdout)
		return
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/heartbeat", srv.handleHeartbeat)
	e.POST("/upsert", srv.handleUpsert)
	e.POST("/query", srv.handleQuery)
	e.GET("/collections/:collection/ids", srv.handleListIDs)
	e.POST("/delete", srv.handleDelete)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
			slog.Error("embedserver: server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
}

// embeddingFunc prefers an OpenAI-compatible embedding model when an API
// key is configured, and otherwise falls back to a deterministic
// hash-based embedding so the binary stays runnable offline and in tests
// (spec's non-goal: "The core does not itself embed text" — this child
// process is the one place embedding actually happens, so it needs a
// functioning default even with zero external credentials).
func embeddingFunc() chromem.EmbeddingFunc {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return chromem.NewEmbeddingFuncOpenAI(key, chromem.EmbeddingModelOpenAI3Small)
	}
	return hashEmbeddingFunc
}

const embeddingDims = 256

// hashEmbeddingFunc derives a deterministic pseudo-embedding from a
// document's text so semantic query still returns *something* stable
// (not meaningfully "semantic") without any external API call.
func hashEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		vec[int(h)%embeddingDims] += 1
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1) / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

type httpError struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, httpError{Error: err.Error()})
}
