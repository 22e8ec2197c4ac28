package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loclab.gg/stringsmith/internal/cli"
	"loclab.gg/stringsmith/internal/config"
	"loclab.gg/stringsmith/internal/db"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/httpapi"
	"loclab.gg/stringsmith/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "Listen address, for example :8380 (overrides STRINGSMITH_HTTP_ADDR)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 0, "Graceful shutdown timeout (overrides STRINGSMITH_SHUTDOWN_TIMEOUT)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "serve does not accept positional arguments")
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := connectPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if pool == nil {
		logger.Info().Str("snapshot_dir", cfg.SnapshotDir).Msg("DATABASE_URL not set, persisting memories to snapshots only")
	} else {
		defer pool.Close()
	}

	stores := newStores(cfg, pool, logger)
	registry := gateway.NewRegistryFromConfig(cfg, openKeySource(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	srv := httpapi.NewServer(stores, registry, pool, logger, serverOptions(cfg, pool, *addr, *readTimeout, *writeTimeout, *shutdownTimeout))

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := stores.SaveAll(flushCtx); err != nil {
		logger.Warn().Err(err).Msg("final memory flush failed")
	}

	return 0
}

func serverOptions(cfg *config.Config, pool *db.Pool, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) httpapi.Options {
	if addr == "" {
		addr = cfg.HTTPAddr
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = cfg.ShutdownTimeout
	}

	opts := httpapi.Options{
		Addr:            addr,
		AllowedOrigins:  cfg.CORSAllowedOriginsList(),
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		ShutdownTimeout: shutdownTimeout,
		JobDefaults:     batchDefaults(cfg),
	}
	if pool != nil {
		opts.PersistJobs = jobPersister(pool)
	}
	return opts
}
