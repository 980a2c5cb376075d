// Joblensd is the job posting analyzer daemon.
//
// It runs the embedded message broker, the persistent local store, and the
// coordinator that every surface and page agent talks to, plus a local
// HTTP surface for health, metrics, and scripted use.
//
// Usage:
//
//	# Start with defaults
//	joblensd
//
//	# Explicit config file
//	joblensd --config /etc/joblens/config.yaml
//
//	# Configure via environment
//	JOBLENS_SERVER_PORT=9090 joblensd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/account"
	"github.com/fyrsmithlabs/joblens/internal/analysis"
	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/config"
	"github.com/fyrsmithlabs/joblens/internal/coordinator"
	"github.com/fyrsmithlabs/joblens/internal/logging"
	"github.com/fyrsmithlabs/joblens/internal/store"
	"github.com/fyrsmithlabs/joblens/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/joblens/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  joblensd           Start the joblens daemon\n")
			fmt.Fprintf(os.Stderr, "  joblensd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}
	log.Println("Daemon shutdown complete")
}

func printVersion() {
	fmt.Printf("joblensd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes the structured logger
//  3. Starts the embedded broker and opens the store
//  4. Seeds bootstrap credentials into the store
//  5. Creates the account and analysis clients
//  6. Starts the coordinator
//  7. Watches the config file for credential changes
//  8. Serves HTTP until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting joblensd",
		zap.Int("port", cfg.Server.Port),
		zap.String("bus", cfg.Bus.URL()),
		zap.String("store_dir", cfg.Bus.StoreDir))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	if err := seedCredentials(deps.store, cfg); err != nil {
		return fmt.Errorf("seed credentials: %w", err)
	}

	accounts := account.NewClient(account.Config{
		URL:     cfg.Account.URL,
		AnonKey: cfg.Account.AnonKey.Value(),
		Timeout: cfg.Account.Timeout.Duration(),
	}, logger.Named("account"))

	analyzer := analysis.NewClient(analysis.Config{
		BaseURL:     cfg.Analysis.BaseURL,
		Model:       cfg.Analysis.Model,
		Timeout:     cfg.Analysis.Timeout.Duration(),
		MaxTextSize: cfg.Analysis.MaxTextSize,
	}, deps.store, logger.Named("analysis"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coord := coordinator.New(deps.store, analyzer, accounts, deps.natsConn, registry, logger.Named("coordinator"))
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer coord.Stop()

	go watchConfig(ctx, configPath, deps.store, logger.Named("watcher"))

	srv := server.NewServer(cfg.Server, deps.natsConn, deps.store, registry, logger.Named("http"))
	logger.Info("Daemon configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	return srv.Start(ctx)
}

// dependencies holds the daemon's infrastructure.
type dependencies struct {
	busServer *natsserver.Server
	natsConn  *nats.Conn
	store     *store.Store
}

// Close releases infrastructure resources in reverse start order.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.busServer != nil {
		d.busServer.Shutdown()
		d.busServer.WaitForShutdown()
	}
}

// initDependencies starts the embedded broker, connects to it, and opens
// the persistent store.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	busServer, err := bus.StartEmbedded(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("start embedded broker: %w", err)
	}
	logger.Info("Embedded broker started", zap.String("url", busServer.ClientURL()))

	nc, err := bus.Connect(busServer.ClientURL())
	if err != nil {
		busServer.Shutdown()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	st, err := store.Open(nc, cfg.Bus.Bucket)
	if err != nil {
		nc.Close()
		busServer.Shutdown()
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("Store opened", zap.String("bucket", cfg.Bus.Bucket))

	return &dependencies{busServer: busServer, natsConn: nc, store: st}, nil
}

// seedCredentials fills missing account bootstrap credentials from the
// configuration. A credential the user already stored is never overwritten.
func seedCredentials(st *store.Store, cfg *config.Config) error {
	creds, err := st.Credentials()
	if err != nil {
		return err
	}
	if creds.AccountURL != "" && creds.AccountKey != "" {
		return nil
	}
	if creds.AccountURL == "" {
		creds.AccountURL = cfg.Account.URL
	}
	if creds.AccountKey == "" {
		creds.AccountKey = cfg.Account.AnonKey.Value()
	}
	return st.SaveCredentials(creds)
}

// watchConfig reseeds bootstrap credentials when the config file changes.
// Watch failures are logged and the daemon runs on without live reload.
func watchConfig(ctx context.Context, configPath string, st *store.Store, logger *zap.Logger) {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			logger.Warn("resolve config path", zap.Error(err))
			return
		}
	}
	if _, err := os.Stat(configPath); err != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("create config watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		logger.Warn("watch config directory", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != configPath || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Warn("reload config", zap.Error(err))
				continue
			}
			if err := seedCredentials(st, cfg); err != nil {
				logger.Warn("reseed credentials", zap.Error(err))
				continue
			}
			logger.Info("Config reloaded", zap.String("path", configPath))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher", zap.Error(err))
		}
	}
}
