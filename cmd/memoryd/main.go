// Command memoryd is the worker orchestrator process: it loads
// configuration, opens the record store, and serves the coding host's
// HTTP API until it receives a shutdown signal. Startup follows a
// flag-driven data dir, a best-effort .env load, and ordered component
// initialization, logged with structured slog output throughout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/orchestrator"
	"github.com/sessionmemory/worker/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := flag.String("data-dir", getEnv("CLAUDE_MEM_DATA_DIR", ""), "Path to the worker's data directory")
	addr := flag.String("addr", "", "HTTP listen address (overrides the configured http_addr)")
	flag.Parse()

	resolvedDataDir := *dataDir
	if resolvedDataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("resolving home directory failed", "error", err)
			os.Exit(1)
		}
		resolvedDataDir = filepath.Join(home, ".claude-mem")
	}

	envPath := filepath.Join(resolvedDataDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("no .env file loaded, continuing with process environment", "path", envPath)
	} else {
		slog.Info("loaded environment overrides", "path", envPath)
	}

	cfg, err := config.Load(resolvedDataDir)
	if err != nil {
		slog.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}

	listenAddr := cfg.HTTPAddr
	if *addr != "" {
		listenAddr = *addr
	}

	slog.Info("starting memoryd", "version", version.Full(), "data_dir", cfg.DataDir, "provider", cfg.Provider)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		slog.Error("assembling orchestrator failed", "error", err)
		os.Exit(1)
	}

	if err := orch.Run(ctx, listenAddr, func(bound net.Addr) {
		if err := writePidFile(cfg.DataDir, bound); err != nil {
			slog.Error("writing pidfile failed", "error", err)
		}
	}); err != nil {
		slog.Error("memoryd exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("memoryd shut down cleanly")
}

// pidFile is the contents of worker.pid: the host uses it to find the
// running worker's port and to confirm the process that wrote it is still
// alive before starting a second one.
type pidFile struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	StartedAt string `json:"started_at"`
}

// writePidFile is called only after the HTTP listener is already bound,
// so a worker.pid on disk always names a port that is actually being
// served (no window where a reader could connect to a port nobody is
// listening on yet).
func writePidFile(dataDir string, addr net.Addr) error {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address type %T", addr)
	}

	pf := pidFile{
		PID:       os.Getpid(),
		Port:      tcpAddr.Port,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pidfile: %w", err)
	}

	path := filepath.Join(dataDir, "worker.pid")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
