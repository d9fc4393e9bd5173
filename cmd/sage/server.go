package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/quantive/sage/internal/answer"
	"github.com/quantive/sage/internal/api"
	"github.com/quantive/sage/internal/assemble"
	"github.com/quantive/sage/internal/chunker"
	"github.com/quantive/sage/internal/config"
	"github.com/quantive/sage/internal/extract"
	"github.com/quantive/sage/internal/ingest"
	"github.com/quantive/sage/internal/query"
	"github.com/quantive/sage/internal/rank"
	"github.com/quantive/sage/internal/retrieval"
	"github.com/quantive/sage/internal/storage"
	"github.com/quantive/sage/internal/watch"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sage server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sage server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sage system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sage.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseDurationOr(value string, fallback time.Duration, key string) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "sage version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.APIToken == "" {
		return fmt.Errorf("SAGE_API_TOKEN is not set")
	}

	// Refuse to start twice. The health endpoint is the source of truth;
	// the PID file only names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sage is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sage is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vocab, err := config.LoadVocabulary(cfg.Ingest.VocabPath)
	if err != nil {
		return fmt.Errorf("loading vocabulary: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	var vectors retrieval.VectorStore
	switch cfg.Storage.VectorBackend {
	case "pgvector":
		pg, err := retrieval.NewPGStore(ctx, retrieval.PGConfig{
			ConnString: cfg.Storage.PostgresURL,
			Table:      cfg.Storage.VectorTable,
			VectorDim:  cfg.Embedding.VectorDim,
		})
		if err != nil {
			return fmt.Errorf("connecting vector backend: %w", err)
		}
		defer pg.Close()
		vectors = pg
	default:
		vectors = retrieval.NewSQLiteStore(store.DB())
	}
	slog.Info("vector backend ready", "backend", cfg.Storage.VectorBackend)

	embedder, err := retrieval.NewServiceEmbedder(retrieval.EmbedderConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	fetchTimeout := parseDurationOr(cfg.Ingest.FetchTimeout, 10*time.Second, "ingest.fetch_timeout")
	extractors, err := extract.NewRegistry(
		extract.NewTextExtractor(),
		extract.NewFileExtractor(),
		extract.NewWebExtractor(extract.WebConfig{
			RateLimit: cfg.Ingest.FetchRateLimit,
			Timeout:   fetchTimeout,
		}),
		extract.NewVideoExtractor(extract.VideoConfig{
			BaseURL: cfg.Ingest.TranscriptBaseURL,
			Timeout: fetchTimeout,
		}),
	)
	if err != nil {
		return fmt.Errorf("building extractor registry: %w", err)
	}

	retention := parseDurationOr(cfg.Ingest.JobRetention, time.Hour, "ingest.job_retention")
	registry := ingest.NewRegistry(retention)
	go registry.RunSweeper(ctx, 5*time.Minute)

	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Store:      store,
		Vectors:    vectors,
		Embedder:   embedder,
		Extractors: extractors,
		Chunker: chunker.New(chunker.Config{
			MaxWords: cfg.Ingest.ChunkSize,
			Overlap:  cfg.Ingest.ChunkOverlap,
		}, vocab),
		Vocab:         vocab,
		Registry:      registry,
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
	})

	var renderer answer.Renderer
	if cfg.Answer.Model != "" {
		r, err := answer.NewProseRenderer(answer.RenderConfig{
			BaseURL: cfg.Answer.BaseURL,
			Model:   cfg.Answer.Model,
			APIKey:  cfg.Answer.APIKey,
		})
		if err != nil {
			slog.Warn("prose renderer unavailable", "error", err)
		} else {
			renderer = r
		}
	}

	svc := answer.NewService(answer.ServiceConfig{
		Analyzer:  query.NewAnalyzer(vocab),
		Retriever: retrieval.NewRetriever(embedder, vectors),
		Ranker:    rank.NewRanker(vocab),
		Engine:    assemble.NewEngine(assemble.Config{}),
		Renderer:  renderer,
		TopK:      cfg.Retrieval.TopK,
		Threshold: float32(cfg.Retrieval.Threshold),
	})

	if cfg.Ingest.WatchDir != "" {
		if err := os.MkdirAll(cfg.Ingest.WatchDir, 0o755); err != nil {
			return fmt.Errorf("creating watch directory: %w", err)
		}
		watcher, err := watch.New(watch.Config{
			Dir:     cfg.Ingest.WatchDir,
			Options: ingest.DefaultOptions(),
		}, orch)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Ingestor: orch,
		Asker:    svc,
		Items:    store,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP over SSE on its own port, so agents connect without holding the
	// server's stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Ingestor: orch,
		Asker:    svc,
		Items:    store,
	})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sage listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("sage is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sage (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sage (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("MCP port", "%d", cfg.Server.MCPPort)
	printStatus("Vector backend", "%s", cfg.Storage.VectorBackend)
	printStatus("Embedding model", "%s", cfg.Embedding.Model)
	if cfg.Answer.Model != "" {
		printStatus("Answer model", "%s", cfg.Answer.Model)
	}
	if cfg.Ingest.WatchDir != "" {
		printStatus("Watch dir", "%s", cfg.Ingest.WatchDir)
	}

	if running && cfg.Server.APIToken != "" {
		authed := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Server.APIToken,
			httpClient: client,
		}
		if itemsResp, err := authed.get(ctx, "/items?limit=100"); err == nil {
			var items []json.RawMessage
			if decodeJSON(itemsResp, &items) == nil {
				printStatus("Items", "%s", countLabel(len(items), 100))
			}
		}
		if jobsResp, err := authed.get(ctx, "/jobs"); err == nil {
			var jobs []json.RawMessage
			if decodeJSON(jobsResp, &jobs) == nil {
				printStatus("Jobs", "%d", len(jobs))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
