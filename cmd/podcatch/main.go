package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"

	"podcatch/internal/catalog"
	"podcatch/internal/catalog/catalogdb"
	"podcatch/internal/config"
	"podcatch/internal/download"
	"podcatch/internal/feed"
	"podcatch/internal/fetch"
	"podcatch/internal/logctx"
	"podcatch/internal/notifier"
	"podcatch/internal/syncer"
	"podcatch/internal/telemetry"
)

// version is stamped through ldflags on release builds.
var version = "dev"

type cliOptions struct {
	once    bool
	migrate bool
	list    bool
	add     bool

	castID    int
	name      string
	url       string
	directory string
}

func main() {
	var opts cliOptions

	flag.BoolVar(&opts.once, "once", false, "run a single sync pass and exit")
	flag.BoolVar(&opts.migrate, "migrate", false, "apply catalog migrations and exit")
	flag.BoolVar(&opts.list, "list", false, "list subscriptions and exit")
	flag.BoolVar(&opts.add, "add", false, "subscribe to a feed and exit, requires -url")
	flag.IntVar(&opts.castID, "castid", 0, "podcast id: lists episodes with -list, overrides the assigned id with -add")
	flag.StringVar(&opts.name, "name", "", "podcast name for -add (default: feed title)")
	flag.StringVar(&opts.url, "url", "", "feed url for -add")
	flag.StringVar(&opts.directory, "directory", "", "download directory for -add (default: ~/podcasts/<name>)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("podcatch starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg, opts); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts cliOptions) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	db, err := catalogdb.Open(ctx, cfg.DatabaseDSN, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	if err := catalogdb.Migrate(db, cfg.DatabaseDSN, "file://"+filepath.ToSlash(cfg.MigrationsDir)); err != nil {
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}

	if opts.migrate {
		logger.Info("catalog migrated", "dsn", cfg.DatabaseDSN)

		return nil
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "podcatch",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down telemetry", "err", err)
		}
	}()

	store := catalogdb.NewInstrumentedCatalogRepository(db, tel)

	// =========================================================================
	// Admin Modes
	if opts.list {
		if opts.castID > 0 {
			return listEpisodes(ctx, store, int32(opts.castID))
		}

		return listPodcasts(ctx, store)
	}

	if opts.add {
		return addPodcast(ctx, store, buildFeedClient(cfg), opts)
	}

	// =========================================================================
	// Start Syncer
	enclosures := fetch.NewClient(
		fetch.WithTimeout(cfg.DownloadTimeout),
		fetch.WithMaxTries(cfg.RetryMaxTries),
		fetch.WithMaxInterval(cfg.RetryMaxInterval),
	)

	s := syncer.New(store, buildFeedClient(cfg), download.NewDownloader(enclosures, store), tel, syncer.Options{
		DownloadWorkers: cfg.DownloadWorkers,
		QueueSize:       cfg.QueueSize,
		PodcastParallel: cfg.PodcastParallel,
		RetryIncomplete: cfg.RetryIncomplete,
		StatusRetries:   cfg.StatusRetries,
	})

	s.Start(ctx)
	defer s.Stop()

	// =========================================================================
	// Start Notification
	notif := buildNotifier(cfg)

	pass := func(ctx context.Context) {
		reports, err := s.SyncAll(ctx)
		if err != nil {
			logger.Error("sync pass failed", "err", err)

			return
		}

		logger.Info("sync pass complete", "summary", syncer.Summarize(reports))
		notifyPass(ctx, notif, reports)
	}

	if opts.once {
		reports, err := s.SyncAll(ctx)
		if err != nil {
			return fmt.Errorf("sync pass failed: %w", err)
		}

		logger.Info("sync pass complete", "summary", syncer.Summarize(reports))
		notifyPass(ctx, notif, reports)

		return onceExitError(cfg, reports)
	}

	// =========================================================================
	// Start Diagnostics Listener

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	var server *http.Server

	if cfg.Metrics.BindAddress != "" {
		server = setupDiagnostics(ctx, tel, cfg)

		go func() {
			logger.Info("initializing diagnostics listener", "host", cfg.Metrics.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()
	}

	logger.Info("waiting for feed updates...",
		"update_interval", cfg.UpdateInterval.String(),
		"workers", cfg.DownloadWorkers,
		"podcast_parallel", cfg.PodcastParallel,
		"retry_incomplete", cfg.RetryIncomplete,
	)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	// The first pass runs right away instead of one interval in.
	pass(ctx)

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("diagnostics server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			s.Stop()

			if server != nil {
				// Give outstanding requests a deadline for completion.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to gracefully shutdown the diagnostics server", "err", err)

					if err = server.Close(); err != nil {
						return fmt.Errorf("could not stop server gracefully: %w", err)
					}
				}
			}

			return nil
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func buildFeedClient(cfg *config.Config) *fetch.Client {
	return fetch.NewClient(
		fetch.WithTimeout(cfg.FeedTimeout),
		fetch.WithMaxTries(cfg.RetryMaxTries),
		fetch.WithMaxInterval(cfg.RetryMaxInterval),
	)
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL != "" {
		return &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	return notifier.Noop{}
}

// notifyPass pushes a summary for passes that actually moved something.
func notifyPass(ctx context.Context, notif notifier.Notifier, reports []syncer.Report) {
	var downloaded, failed, aborted int

	for _, r := range reports {
		downloaded += r.Downloaded
		failed += r.Failed

		if r.Err != nil {
			aborted++
		}
	}

	if downloaded == 0 && failed == 0 && aborted == 0 {
		return
	}

	msg := "✅ " + syncer.Summarize(reports)
	if failed > 0 || aborted > 0 {
		msg = "⚠️ " + syncer.Summarize(reports)
	}

	if err := notif.Notify(ctx, msg); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

// onceExitError decides the exit status of a -once pass. By default only a
// fully failed pass is fatal; with STRICT_FAILURES any failed download or
// unreachable feed is.
func onceExitError(cfg *config.Config, reports []syncer.Report) error {
	var failed, aborted int

	for _, r := range reports {
		failed += r.Failed

		if r.Err != nil {
			aborted++
		}
	}

	if len(reports) > 0 && aborted == len(reports) {
		return fmt.Errorf("all %d feeds unreachable", len(reports))
	}

	if cfg.StrictFailures && (failed > 0 || aborted > 0) {
		return fmt.Errorf("%d downloads failed, %d feeds unreachable", failed, aborted)
	}

	return nil
}

func listPodcasts(ctx context.Context, store *catalogdb.InstrumentedCatalogRepository) error {
	podcasts, err := store.Podcasts(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CASTID\tNAME\tFEED\tDIRECTORY")

	for _, p := range podcasts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.CastID, p.CastName, p.FeedURL, p.Directory)
	}

	return w.Flush()
}

func listEpisodes(ctx context.Context, store *catalogdb.InstrumentedCatalogRepository, castID int32) error {
	pod, err := store.PodcastByID(ctx, castID)
	if err != nil {
		return err
	}

	if pod == nil {
		return fmt.Errorf("no podcast with castid %d", castID)
	}

	episodes, err := store.Episodes(ctx, castID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EPISODEID\tSTATUS\tTITLE\tURL")

	for _, ep := range episodes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ep.EpisodeID, ep.Status, ep.Title, ep.URL)
	}

	return w.Flush()
}

// addPodcast subscribes to a feed. The feed is retrieved and parsed first so
// that a typo or a dead URL is rejected instead of catalogued.
func addPodcast(ctx context.Context, store *catalogdb.InstrumentedCatalogRepository, feeds *fetch.Client, opts cliOptions) error {
	if opts.url == "" {
		return fmt.Errorf("-add requires -url")
	}

	body, err := feeds.GetBytes(ctx, opts.url)
	if err != nil {
		return fmt.Errorf("failed to probe feed: %w", err)
	}

	parsed, err := feed.Parse(body, 0, 1)
	if err != nil {
		return err
	}

	if len(parsed.Candidates) == 0 {
		return fmt.Errorf("feed %s lists no downloadable episodes", opts.url)
	}

	name := opts.name
	if name == "" {
		name = parsed.Title
	}

	if name == "" {
		return fmt.Errorf("feed has no title, pass -name")
	}

	castID := int32(opts.castID)
	if castID == 0 {
		max, err := store.MaxCastID(ctx)
		if err != nil {
			return err
		}

		castID = max + 1
	}

	dir := opts.directory
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}

		dir = filepath.Join(home, "podcasts", dirNameFor(name))
	}

	pod := catalog.Podcast{CastID: castID, CastName: name, FeedURL: opts.url, Directory: dir}
	if err := store.AddPodcast(ctx, &pod); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).Info("subscribed",
		"castid", pod.CastID,
		"castname", pod.CastName,
		"directory", pod.Directory,
		"episodes_listed", len(parsed.Candidates),
	)

	return nil
}

// dirNameFor flattens a podcast name into a directory-safe form.
func dirNameFor(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}

		return r
	}, name)
}

// setupDiagnostics wires the metrics and health endpoints.
func setupDiagnostics(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.RequestLogger)
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.Metrics.BindAddress,
		ReadTimeout:  cfg.Metrics.ReadTimeout,
		WriteTimeout: cfg.Metrics.WriteTimeout,
		IdleTimeout:  cfg.Metrics.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
