package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pobbin/cfg"
	"pobbin/pkg/secrets"
	"pobbin/svc/api"
	"pobbin/svc/cache"
	"pobbin/svc/db"
	"pobbin/svc/report"
	"pobbin/svc/sched"
	"pobbin/svc/svc"
	"pobbin/svc/util"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 30 * time.Second
	taskTimeout     = 5 * time.Second
)

func main() {
	health := pflag.Bool("health", false, "probe the local /health endpoint and exit")
	envFile := pflag.String("env-file", "", "load environment variables from `path` before reading config")
	pflag.Parse()

	if *envFile != "" {
		if err := cfg.LoadEnvFile(*envFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *health {
		os.Exit(probeHealth())
	}

	c, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	util.InitLog(c.LogLevel, c.Environment == "development", &util.LogFile{
		Path:       c.Log.FilePath,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.SecretsFromProvider {
		resolver, err := secrets.FromEnv(ctx)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize secret provider")
		}
		n, err := secrets.Fill(ctx, resolver, c.SecretTargets())
		if err != nil {
			util.Fatal().Err(err).Msg("failed to resolve secrets")
		}
		util.Info().Int("resolved", n).Msg("secrets loaded from provider")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.Info().
		Str("environment", c.Environment).
		Str("backend", c.StorageBackend).
		Msg("starting pobbin")

	backend, stopBackend, err := openBackend(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Str("backend", c.StorageBackend).Msg("failed to initialize storage")
	}
	storage := db.NewStorage(backend, c.StorageRetries, c.StorageRetryBase)
	probes := map[string]api.Pinger{"storage": storage}

	lru, err := cache.NewLRU(c.EdgeCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create edge cache")
	}
	var edge cache.Edge = lru
	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis configured but unreachable")
			}
			util.Warn().Err(err).Msg("redis unavailable, using local edge cache only")
		} else {
			edge = cache.NewTiered(lru, cache.NewRedis(rdb))
			probes["redis"] = rdb
			util.Info().Str("url", util.RedactURL(c.RedisURL)).Msg("redis edge cache connected")
		}
	}
	util.Info().Int("size", c.EdgeCacheSize).Dur("ttl", c.EdgeCacheTTL).Msg("edge cache initialized")

	pool := sched.New(c.SchedulerWorkers, c.SchedulerQueue, taskTimeout)
	util.Info().Int("workers", c.SchedulerWorkers).Int("queue", c.SchedulerQueue).Msg("scheduler started")

	rep, err := report.New(c.SentryDSN.Value(), c.Environment, c.SentrySampleRate)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize error reporter")
	}

	server := api.NewServer(c, api.Deps{
		Paste:    svc.NewPaste(storage, c),
		Reporter: rep,
		Cache:    edge,
		Spawner:  pool,
		Probes:   probes,
	})

	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		util.Warn().Err(err).Msg("scheduler shutdown incomplete")
	}
	if !rep.Flush(2 * time.Second) {
		util.Warn().Msg("error reports not flushed")
	}
	stopBackend()
	if err := storage.Close(); err != nil {
		util.Error().Err(err).Msg("storage close error")
	}
	if rdb != nil {
		rdb.Close()
	}
	cancel()
	util.Info().Msg("shutdown complete")
}

// openBackend builds the configured storage backend. The returned stop
// function ends any background maintenance it started.
func openBackend(ctx context.Context, c *cfg.Cfg) (db.Backend, func(), error) {
	noop := func() {}
	switch c.StorageBackend {
	case cfg.BackendSQLite:
		s, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, noop, err
		}
		util.Info().Str("path", c.DatabasePath).Msg("sqlite database initialized")
		quit := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.RunWALMaintenance(c.WALInterval, quit)
		}()
		stop := func() {
			close(quit)
			select {
			case <-done:
				util.Info().Msg("WAL maintenance stopped")
			case <-time.After(6 * time.Second):
				util.Warn().Msg("WAL maintenance did not stop gracefully")
			}
		}
		return s, stop, nil
	case cfg.BackendPostgres:
		p, err := db.NewPostgres(ctx, c.PostgresURL.Value(), c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, noop, err
		}
		util.Info().Str("dsn", util.RedactURL(c.PostgresURL.Value())).Msg("postgres connected")
		return p, noop, nil
	case cfg.BackendS3:
		s, err := db.NewS3(ctx, db.S3Config{
			Bucket:    c.S3.Bucket,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey.Value(),
			Prefix:    c.S3.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		util.Info().Str("bucket", c.S3.Bucket).Msg("object storage initialized")
		return s, noop, nil
	case cfg.BackendMemory:
		util.Warn().Msg("using in-memory storage, pastes will not survive a restart")
		return db.NewMemory(), noop, nil
	}
	return nil, noop, errors.Errorf("unknown storage backend %q", c.StorageBackend)
}

// probeHealth backs the container health check.
func probeHealth() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
