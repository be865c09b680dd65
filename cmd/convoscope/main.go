// Command convoscope is the main entry point for the Convoscope
// conversation-intelligence pipeline server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convoscope/convoscope/internal/alerts"
	"github.com/convoscope/convoscope/internal/analysis"
	"github.com/convoscope/convoscope/internal/config"
	embedidx "github.com/convoscope/convoscope/internal/embeddings"
	"github.com/convoscope/convoscope/internal/health"
	"github.com/convoscope/convoscope/internal/ingest"
	"github.com/convoscope/convoscope/internal/mcptool"
	"github.com/convoscope/convoscope/internal/observe"
	"github.com/convoscope/convoscope/internal/pipeline"
	"github.com/convoscope/convoscope/internal/scheduler"
	"github.com/convoscope/convoscope/internal/securestore"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/internal/transcribe"
	"github.com/convoscope/convoscope/pkg/media"
	"github.com/convoscope/convoscope/pkg/provider/archive"
	"github.com/convoscope/convoscope/pkg/provider/asr"
	oaembed "github.com/convoscope/convoscope/pkg/provider/embeddings/openai"
	"github.com/convoscope/convoscope/pkg/provider/notetaker"
	"github.com/convoscope/convoscope/pkg/provider/telephony"
)

// version is stamped via -ldflags at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	backfillFrom := flag.String("backfill-from", "", "one-shot: process this date range (YYYY-MM-DD) and exit")
	backfillTo := flag.String("backfill-to", "", "one-shot: end of the backfill range (YYYY-MM-DD, inclusive)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "convoscope: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "convoscope: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("convoscope starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Database ──────────────────────────────────────────────────────────────
	st, err := store.NewStore(ctx, cfg.Database.DSN, cfg.Database.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer st.Close()

	// ── Alerts ────────────────────────────────────────────────────────────────
	alertMgr := alerts.NewManager(logger)
	if cfg.Alerts.WebhookURL != "" {
		ch, err := alerts.NewWebhookChannel(cfg.Alerts.WebhookURL)
		if err != nil {
			slog.Error("invalid alert webhook", "err", err)
			return 1
		}
		alertMgr.Add(ch)
	}
	if cfg.Alerts.Email != nil {
		alertMgr.Add(alerts.NewEmailChannel(*cfg.Alerts.Email))
	}

	// ── Local data tree ───────────────────────────────────────────────────────
	stagingDir := filepath.Join(cfg.Paths.DataDir, "audio_queue")
	snapshotDir := filepath.Join(cfg.Paths.DataDir, "snapshots")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		slog.Error("failed to create staging dir", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	telClient, err := telephony.New(
		cfg.Telephony.BaseURL,
		cfg.Telephony.ClientID,
		cfg.Telephony.ClientSecret,
		cfg.Telephony.JWT,
	)
	if err != nil {
		slog.Error("failed to create telephony client", "err", err)
		return 1
	}

	asrClient, err := asr.NewHTTPClient(cfg.ASR.BaseURL, cfg.ASR.APIKey)
	if err != nil {
		slog.Error("failed to create asr client", "err", err)
		return 1
	}

	var archOpts []archive.Option
	if cfg.Archive.RootFolder != "" {
		archOpts = append(archOpts, archive.WithRootFolder(cfg.Archive.RootFolder))
	}
	arch, err := archive.NewHTTPStore(cfg.Archive.BaseURL, cfg.Archive.APIKey, archOpts...)
	if err != nil {
		slog.Error("failed to create archive client", "err", err)
		return 1
	}

	var embOpts []oaembed.Option
	if cfg.Embeddings.BaseURL != "" {
		embOpts = append(embOpts, oaembed.WithBaseURL(cfg.Embeddings.BaseURL))
	}
	if cfg.Database.EmbeddingDimensions > 0 {
		embOpts = append(embOpts, oaembed.WithDimensions(cfg.Database.EmbeddingDimensions))
	}
	embProvider, err := oaembed.New(cfg.Embeddings.APIKey, cfg.Embeddings.Model, embOpts...)
	if err != nil {
		slog.Error("failed to create embeddings provider", "err", err)
		return 1
	}

	// ── Ingestion ─────────────────────────────────────────────────────────────
	idCache := ingest.NewIDCache()
	dedup := ingest.NewDeduper(st, idCache, stagingDir)
	telAdapter := ingest.NewTelephonyAdapter(telClient, st, dedup, idCache, logger)
	vidAdapter := ingest.NewVideoAdapter(telClient, st, dedup, idCache, cfg.Telephony.InternalDomains, logger)
	composite := ingest.NewComposite(telAdapter, vidAdapter)

	var noteSync *ingest.NotetakerSync
	if cfg.Notetaker.BaseURL != "" {
		cipher, err := ingest.NewCipherFromEnv(cfg.Notetaker.CredentialKeyEnv)
		if err != nil {
			slog.Error("failed to load notetaker credential key", "err", err)
			return 1
		}
		factory := func(apiKey string) (ingest.NotetakerClient, error) {
			return notetaker.New(cfg.Notetaker.BaseURL, apiKey)
		}
		noteSync = ingest.NewNotetakerSync(st, cipher, factory, 0, logger)
	}

	// ── Pipeline stages ───────────────────────────────────────────────────────
	downloader := ingest.NewDownloader(telClient, stagingDir)
	orch := transcribe.NewOrchestrator(st, asrClient, arch, media.New(), cfg.ASR, stagingDir, logger)
	vidAdapter.SetDirectorySink(orch)
	uploader := securestore.NewHandler(st, arch, cfg.Paths.DataDir, alertMgr, logger)

	worker := pipeline.NewWorker("w1", st, downloader, orch, uploader,
		cfg.Scheduler.MaxRetries, cfg.Scheduler.ItemTimeout.Std(), logger)

	batch := pipeline.NewBatchProcessor(st, composite, worker, pipeline.Config{
		WorkerCount: cfg.Scheduler.WorkerCount,
		BatchSize:   cfg.Scheduler.BatchSize,
		MaxRetries:  cfg.Scheduler.MaxRetries,
	}, logger)

	// ── Analysis and semantic index ───────────────────────────────────────────
	cascade := analysis.NewCascade(st, analysis.NewRouter(cfg.LLM), logger,
		analysis.WithParallelism(cfg.Scheduler.AnalysisParallelism))
	indexer := embedidx.NewIndexer(st, embProvider, logger)
	searcher := embedidx.NewSearcher(st, embProvider)

	// ── Health ────────────────────────────────────────────────────────────────
	checker := health.NewChecker(
		health.Database(st),
		health.DiskSpace(cfg.Paths.DataDir, 1<<30),
		health.StagingDir(stagingDir),
		health.External("telephony", cfg.Telephony.BaseURL, nil),
		health.External("asr", cfg.ASR.BaseURL, nil),
		health.External("archive", cfg.Archive.BaseURL, nil),
	)

	// ── Scheduler ─────────────────────────────────────────────────────────────
	sched, err := scheduler.New(batch, cascade, indexer, schedNotetaker(noteSync),
		checker, st, alertMgr, metrics, scheduler.Config{
			DailyTime:      cfg.Scheduler.DailyScheduleTime,
			HistoricalDays: cfg.Scheduler.HistoricalDays,
			SnapshotDir:    snapshotDir,
		}, logger)
	if err != nil {
		slog.Error("failed to create scheduler", "err", err)
		return 1
	}

	// ── One-shot backfill mode ────────────────────────────────────────────────
	if *backfillFrom != "" {
		start, end, err := parseBackfill(*backfillFrom, *backfillTo)
		if err != nil {
			slog.Error("invalid backfill range", "err", err)
			return 1
		}
		slog.Info("running historical backfill", "from", start, "to", end)
		if _, err := sched.RunHistorical(ctx, start, end); err != nil {
			slog.Error("backfill failed", "err", err)
			return 1
		}
		slog.Info("backfill complete")
		return 0
	}

	// ── HTTP server (health + metrics) ────────────────────────────────────────
	mux := http.NewServeMux()
	health.NewHandler(checker).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// ── MCP tool server (optional) ────────────────────────────────────────────
	if cfg.Server.EnableMCP {
		mcpSrv := mcptool.New(searcher, st, version, logger)
		go func() {
			if err := mcpSrv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mcp server error", "err", err)
			}
		}()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	// ── Main loop ─────────────────────────────────────────────────────────────
	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	exitCode := 0
	select {
	case err := <-httpErr:
		slog.Error("http server error", "err", err)
		stop()
		<-runErr
		exitCode = 1
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler error", "err", err)
			exitCode = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// schedNotetaker converts a possibly-nil *ingest.NotetakerSync into the
// scheduler's interface. A plain nil assignment would produce a non-nil
// interface wrapping a nil pointer.
func schedNotetaker(s *ingest.NotetakerSync) scheduler.NotetakerSyncer {
	if s == nil {
		return nil
	}
	return s
}

// parseBackfill validates the one-shot date range. An empty "to" means a
// single day.
func parseBackfill(from, to string) (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill-from %q: want YYYY-MM-DD", from)
	}
	end = start
	if to != "" {
		end, err = time.Parse(time.DateOnly, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backfill-to %q: want YYYY-MM-DD", to)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill range ends before it starts")
	}
	return start, end, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
