// Command trunkwatch launches the transmission distribution engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/trunkwatch/trunkwatch/internal/access"
	"github.com/trunkwatch/trunkwatch/internal/broadcast"
	"github.com/trunkwatch/trunkwatch/internal/config"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/identity"
	"github.com/trunkwatch/trunkwatch/internal/ingest"
	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/server/httpapi"
	"github.com/trunkwatch/trunkwatch/internal/store/migrations"
	"github.com/trunkwatch/trunkwatch/internal/store/postgres"
	"github.com/trunkwatch/trunkwatch/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "trunkwatch "
	shutdownTimeout          = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath, verbose := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, verbose))

	cfg, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, users=%d",
		cfg.Telemetry.Environment, len(cfg.Users))

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	var lifecycle conc.WaitGroup

	stores, err := buildStorage(ctx, logger, &lifecycle, cfg.Database)
	if err != nil {
		logger.Fatalf("initialise storage: %v", err)
	}

	policy := access.Policy{
		Restrict:         cfg.Access.Restrict,
		AnonymousHistory: cfg.Access.AnonymousHistory(),
	}
	broadcaster := broadcast.New(policy, stores.directory,
		broadcast.WithQueueCapacity(cfg.Stream.QueueCapacity),
		broadcast.WithDrainGrace(cfg.Stream.DrainGrace),
	)
	gateway := ingest.NewGateway(stores.catalog, stores.archive, broadcaster)
	resolver := identity.NewStaticResolver(cfg.IdentityUsers())

	handler := httpapi.NewHandler(gateway, broadcaster, stores.archive, stores.lister, resolver, httpapi.Options{
		ImportToken:   cfg.Ingest.Token,
		ImportRate:    cfg.Ingest.RatePerSecond,
		ImportBurst:   cfg.Ingest.Burst,
		BackfillLimit: cfg.Stream.BackfillLimit,
		WriteTimeout:  cfg.Stream.WriteTimeout,
	})

	apiServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server: %v", err)
			cancel()
		}
	})
	logger.Printf("listening on %s", cfg.Server.Addr)
	if cfg.Ingest.Token == "" {
		logger.Print("no import token configured; recorder uploads disabled")
	}

	logger.Print("engine started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:        apiServer,
		serverTimeout: cfg.Server.ShutdownTimeout,
		mainCancel:    cancel,
		lifecycle:     &lifecycle,
		closeStore:    stores.close,
		telemetry:     telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (configPath string, verbose bool) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	verboseFlag := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()
	return *cfgPath, *verboseFlag
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	cleaned := filepath.Clean(defaultConfigPath)
	if _, err := os.Stat(cleaned); err != nil {
		return ""
	}
	return cleaned
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Enabled
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	if cfg.Environment != "" {
		telemetryCfg.Environment = cfg.Environment
	}

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s", telemetryCfg.OTLPEndpoint)
	} else {
		logger.Print("telemetry disabled")
	}
	return provider, nil
}

// storage bundles the persistence-facing dependencies. With a database DSN the
// Postgres store backs all four roles; without one the in-memory
// implementations serve a single-process deployment.
type storage struct {
	archive   history.Archive
	catalog   ingest.Catalog
	lister    httpapi.TalkgroupLister
	directory broadcast.Directory
	close     func()
}

func buildStorage(ctx context.Context, logger *log.Logger, lifecycle *conc.WaitGroup, cfg config.DatabaseConfig) (storage, error) {
	if cfg.DSN == "" {
		logger.Print("no database configured; using in-memory archive")
		catalog := ingest.NewMemoryCatalog()
		return storage{
			archive:   history.NewMemoryArchive(),
			catalog:   catalog,
			lister:    catalog,
			directory: broadcast.NewStaticDirectory(),
			close:     func() {},
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := migrations.Apply(connectCtx, cfg.DSN, logger); err != nil {
		return storage{}, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := postgres.Connect(connectCtx, cfg.DSN)
	if err != nil {
		return storage{}, fmt.Errorf("connect database: %w", err)
	}
	store := postgres.New(pool)

	directory := postgres.NewDirectory(store)
	if err := directory.Refresh(ctx); err != nil {
		store.Close()
		return storage{}, fmt.Errorf("load directory: %w", err)
	}
	refresh := cfg.DirectoryRefresh
	if refresh <= 0 {
		refresh = time.Minute
	}
	lifecycle.Go(func() { directory.Watch(ctx, refresh) })

	logger.Print("database connected, directory loaded")
	return storage{
		archive:   store,
		catalog:   store,
		lister:    store,
		directory: directory,
		close:     store.Close,
	}, nil
}

type gracefulShutdownConfig struct {
	server        *http.Server
	serverTimeout time.Duration
	mainCancel    context.CancelFunc
	lifecycle     *conc.WaitGroup
	closeStore    func()
	telemetry     *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		timeout := cfg.serverTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownStep("stopping api server", timeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.closeStore != nil {
		logger.Print("shutdown: closing store")
		cfg.closeStore()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
