package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chadmayfield/rainfalld/internal/api"
	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/resolve"
	"github.com/chadmayfield/rainfalld/internal/store"
	"github.com/chadmayfield/rainfalld/internal/unresolved"
)

var (
	listenAddr    string
	storageDriver string
	datasetDir    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rainfalld API server (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "unresolved log driver (overrides config)")
	serveCmd.Flags().StringVar(&datasetDir, "dataset-dir", "", "directory holding the rainfall source files (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Make serve the default command.
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if datasetDir != "" {
		cfg.Dataset.Dir = datasetDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogging(cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting rainfalld",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"dataset_dir", cfg.Dataset.Dir,
		"dataset_pattern", cfg.Dataset.Pattern,
	)

	metrics := observability.NewMetrics()

	// Open the unresolved-query log.
	s, err := store.Open(cfg.Storage.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	storagePath := cfg.DSN()
	if cfg.Storage.Driver == "postgres" {
		storagePath = redactDSN(storagePath)
	}
	logger.Info("unresolved log ready", "driver", cfg.Storage.Driver, "path", storagePath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initial dataset load. A directory that can't be listed is fatal here;
	// later reloads keep serving the previous snapshot instead.
	holder := dataset.NewHolder(nil)
	loader := dataset.DirLoader{Dir: cfg.Dataset.Dir, Pattern: cfg.Dataset.Pattern}
	reloader := dataset.NewReloader(holder, loader, logger, metrics)
	if err := reloader.Reload(ctx); err != nil {
		return err
	}
	if holder.Store().Len() == 0 {
		logger.Warn("dataset is empty", "source", loader.String())
	}

	notifier := unresolved.NewNotifier(s, logger, metrics,
		unresolved.WithBreaker(cfg.Unresolved.BreakerFailures, cfg.Unresolved.BreakerTimeout))

	srv := api.NewServer(api.Options{
		Datasets:   holder,
		Log:        s,
		Sink:       notifier,
		Metrics:    metrics,
		MeanMonths: cfg.Aggregation.MeanMonths,
		SumMonths:  cfg.Aggregation.SumMonths,
		Autocomplete: resolve.AutocompleteOptions{
			Limit:     cfg.Autocomplete.Limit,
			MinLength: cfg.Autocomplete.MinLength,
		},
		CORSOrigin: cfg.CORSOrigin,
	}, logger)
	srv.SetVersion(Version)
	srv.SetStorageDriver(cfg.Storage.Driver)

	logger.Info("rainfalld ready", "addr", cfg.ListenAddr, "cities", holder.Store().Len())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Start the reload schedule, the SIGHUP watcher and the server using errgroup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reloader.Run(gctx, cfg.Dataset.ReloadSchedule) })
	g.Go(func() error { return watchReloadSignal(gctx, hup, reloader, logger) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("rainfalld exited with error", "error", waitErr)
	}

	// Always run graceful cleanup, even on error.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = s.Close()

	logger.Info("rainfalld shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// watchReloadSignal reloads the dataset on every SIGHUP until ctx ends.
func watchReloadSignal(ctx context.Context, hup <-chan os.Signal, r *dataset.Reloader, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("SIGHUP received, reloading dataset")
			if err := r.Reload(ctx); err != nil {
				logger.Error("dataset reload failed, keeping previous dataset", "error", err)
			}
		}
	}
}

// redactDSN masks the password in a PostgreSQL DSN for safe display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
