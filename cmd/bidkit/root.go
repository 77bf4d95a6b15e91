package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/bidkit/internal/archive"
	"github.com/hyperengineering/bidkit/internal/config"
	"github.com/hyperengineering/bidkit/internal/console"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/loader"
	"github.com/hyperengineering/bidkit/internal/metrics"
	"github.com/hyperengineering/bidkit/internal/signature"
	"github.com/hyperengineering/bidkit/internal/templatesync"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "bidkit",
	Short: "bidkit - proposal admin console",
	Long:  "Runs the proposal admin console. Subcommands query the backend directly.",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(proposalsCmd)
	rootCmd.AddCommand(contractCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	m := metrics.New()
	client, err := bidapi.New(bidapi.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Timeout: cfg.API.Timeout.Std(),
		Observe: m.ObserveCall,
	})
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	slog.Info("api client initialized", "base_url", cfg.API.BaseURL)

	rawBus, err := events.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	bus := m.InstrumentBus(rawBus)
	slog.Info("event bus opened", "driver", cfg.Events.Driver)

	uploader, err := archive.NewUploader(cfg.Archive)
	if err != nil {
		return err
	}
	if _, noop := uploader.(archive.NoopUploader); noop {
		slog.Info("contract archive disabled")
	} else {
		slog.Info("contract archive enabled", "bucket", cfg.Archive.Bucket)
	}

	opts := loader.Options{PageSize: cfg.Loader.PageSize, Concurrency: cfg.Loader.Concurrency}
	templates := loader.NewTemplateLoader(client, bus, opts)
	proposals := loader.NewProposalLoader(client, bus, opts)
	cache := contracts.NewCache(client)

	handler := console.NewHandler(console.Deps{
		Backend:        client,
		Templates:      templates,
		Proposals:      proposals,
		Syncer:         templatesync.New(client, bus),
		Contracts:      contracts.NewWorkflows(client, cache, bus),
		Signer:         signature.NewSigner(client, cache, bus),
		Archive:        uploader,
		Bus:            bus,
		Metrics:        m,
		AuthToken:      cfg.Server.AuthToken,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Version:        Version,
	})
	if cfg.Server.AuthToken == "" {
		slog.Warn("console token not set, console endpoints are open")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      console.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "template-invalidation", templates.Run)
	startWorker(ctx, &wg, "proposal-invalidation", proposals.Run)
	startWorker(ctx, &wg, "contract-invalidation", func(ctx context.Context) { cache.Run(ctx, bus) })

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	// Open event streams end when the bus closes, so close it before
	// draining the server.
	if err := bus.Close(); err != nil {
		slog.Error("event bus close error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background goroutine that runs until ctx is done.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
