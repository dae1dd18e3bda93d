// Command docfeed feeds documents, part by part, to a chat page.
//
// Usage:
//
//	docfeed -config docfeed.yaml                   # HTTP API + MCP on the configured address
//	docfeed -file report.pdf                       # deliver one document and exit
//	docfeed -file s3://bucket/notes.docx -dry-run  # print the prompts instead of sending them
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hazyhaar/docfeed/api"
	"github.com/hazyhaar/docfeed/dbopen"
	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/feeder"
	"github.com/hazyhaar/docfeed/hostpage"
	"github.com/hazyhaar/docfeed/internal/config"
	"github.com/hazyhaar/docfeed/journal"
	"github.com/hazyhaar/docfeed/settings"
	"github.com/hazyhaar/docfeed/source"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to docfeed.yaml")
	file := flag.String("file", "", "deliver one document (path, file:// or s3:// URI) and exit")
	dryRun := flag.Bool("dry-run", false, "print composed prompts to stdout instead of using the browser")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *file, *dryRun); err != nil {
		logger.Error("docfeed: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, file string, dryRun bool) error {
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := settings.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	mgr := settings.NewManager(store, logger)
	if _, err := mgr.Load(ctx); err != nil {
		logger.Warn("docfeed: settings unavailable, using defaults", "error", err)
	}
	for _, fb := range mgr.Fallbacks() {
		logger.Warn("docfeed: setting replaced by default", "key", fb.Key, "value", fb.Value, "reason", fb.Reason)
	}
	go mgr.Watch(ctx, store, cfg.SettingsPoll)

	jr, err := journal.New(db, journal.WithLogger(logger))
	if err != nil {
		return err
	}
	if n, err := jr.Cleanup(ctx, cfg.JournalRetention); err != nil {
		logger.Warn("docfeed: journal cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("docfeed: journal cleaned", "deleted", n)
	}

	pipe := docpipe.New(docpipe.Config{
		MaxFileSize:    cfg.Extract.MaxFileSize,
		PDFEngine:      cfg.Extract.PDFEngine,
		ArchiveWorkers: cfg.Extract.ArchiveWorkers,
		Logger:         logger,
	})
	loader := source.New(source.Config{
		S3Region:    cfg.S3.Region,
		S3AccessKey: cfg.S3.AccessKey,
		S3SecretKey: cfg.S3.SecretKey,
		S3Endpoint:  cfg.S3.Endpoint,
		MaxSize:     cfg.Extract.MaxFileSize,
		Logger:      logger,
	})

	var active atomic.Pointer[feeder.Controller]
	probe, sink, closeHost, err := openHost(ctx, cfg, logger, dryRun, func() {
		if c := active.Load(); c != nil {
			c.OnInterrupted(feeder.CurrentCursor)
		}
	})
	if err != nil {
		return err
	}
	defer closeHost()

	ctrl := feeder.New(feeder.Config{
		Extractor: pipe,
		Settings:  mgr,
		Probe:     probe,
		Sink:      sink,
		Timing: feeder.Timing{
			PollInterval:     cfg.Delivery.PollInterval,
			SubmitDelay:      cfg.Delivery.SubmitDelay,
			RecoveryCooldown: cfg.Delivery.RecoveryCooldown,
		},
		Observer: jr.Observer(context.WithoutCancel(ctx)),
		Logger:   logger,
	})
	active.Store(ctrl)

	if file != "" {
		return deliverOne(ctx, logger, loader, ctrl, file)
	}

	srv := api.New(api.Config{
		Controller:     ctrl,
		Settings:       mgr,
		Extractor:      pipe,
		Loader:         loader,
		Journal:        jr,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadSize:  cfg.Extract.MaxFileSize,
		Version:        version,
		BaseContext:    ctx,
		Logger:         logger,
	})
	return serve(ctx, logger, cfg.Listen, srv.Handler(), ctrl)
}

// openHost returns the probe and sink: the chat page, or stdout for a dry run.
func openHost(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool, onInterrupt func()) (feeder.ReadinessProbe, feeder.Sink, func(), error) {
	if dryRun {
		logger.Info("docfeed: dry run, prompts go to stdout")
		return feeder.AlwaysReady, &feeder.WriterSink{W: os.Stdout}, func() {}, nil
	}

	browser := hostpage.NewBrowser(hostpage.Config{
		URL:            cfg.Browser.ChatURL,
		RemoteURL:      cfg.Browser.Remote,
		Headless:       cfg.Browser.Headless,
		PromptSelector: cfg.Browser.PromptSelector,
		BusySelector:   cfg.Browser.BusySelector,
		Signatures:     cfg.Browser.Signatures,
		InjectDelay:    cfg.Browser.InjectDelay,
		Logger:         logger,
	})
	page, err := browser.Open(ctx)
	if err != nil {
		browser.Close()
		return nil, nil, nil, err
	}
	if err := page.WatchInterruptions(ctx, func(string) { onInterrupt() }); err != nil {
		logger.Warn("docfeed: interruption watcher unavailable", "error", err)
	}
	closeFn := func() {
		page.Close()
		browser.Close()
	}
	return page.Ready, page, closeFn, nil
}

func deliverOne(ctx context.Context, logger *slog.Logger, loader *source.Loader, ctrl *feeder.Controller, uri string) error {
	doc, err := loader.Open(ctx, uri)
	if err != nil {
		return err
	}
	logger.Info("docfeed: delivering", "document", doc.Name, "format", doc.Format, "bytes", len(doc.Data))

	res, err := ctrl.Run(ctx, doc)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("deliver %s: %w", doc.Name, err)
	}
	out, _ := json.Marshal(res)
	fmt.Fprintln(os.Stderr, string(out))
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, addr string, h http.Handler, ctrl *feeder.Controller) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("docfeed: listening", "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ctrl.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("docfeed: shutting down")
	return hs.Shutdown(shutdownCtx)
}
