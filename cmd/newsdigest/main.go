package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"newsdigest/internal/archive"
	"newsdigest/internal/config"
	"newsdigest/internal/db"
	"newsdigest/internal/ingest"
	"newsdigest/internal/lock"
	"newsdigest/internal/logging"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/server"
	"newsdigest/internal/store"
	"newsdigest/internal/summarize"
)

const usage = `usage: newsdigest <command> [flags]

commands:
  serve         run the HTTP API and the ingestion schedule
  ingest        scrape the source once and print the run report
  migrate       create or upgrade the schema (optionally run a SQL file first)
  init-config   write a starter config file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "ingest":
		err = runIngest(args)
	case "migrate":
		err = runMigrate(args)
	case "init-config":
		err = runInitConfig(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "newsdigest:", err)
		os.Exit(1)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "newsdigest.yaml", "path to config file (optional)")
}

func setup(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store.Store, func(), error) {
	database, dialect, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database connected", zap.String("driver", string(dialect)))
	st := store.New(database, dialect, logger.Named("store"))
	if err := st.Prepare(ctx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("prepare schema: %w", err)
	}
	return st, func() { _ = database.Close() }, nil
}

// newLocker uses Redis when configured so the CLI and a running server never
// ingest at the same time.
func newLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.URL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	rdb, err := lock.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis connected", zap.String("lock_key", cfg.Redis.LockKey))
	return lock.NewRedis(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL(), logger), func() { _ = rdb.Close() }, nil
}

func newIngester(ctx context.Context, cfg config.Config, st *store.Store, logger *zap.Logger) (*ingest.Service, func(), error) {
	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		closeLocker()
		return nil, nil, fmt.Errorf("init archive: %w", err)
	}
	if arch.Enabled() {
		logger.Info("page snapshots enabled", zap.String("bucket", cfg.Archive.Bucket))
	}
	return ingest.New(cfg, st, locker, arch, logger), closeLocker, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if err := scheduler.ValidateSchedule(cfg.Source.IngestSchedule); err != nil {
		return err
	}
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	summarizer, err := summarize.New(cfg.Summarizer)
	if err != nil {
		return err
	}
	if cfg.Summarizer.APIKey == "" {
		logger.Warn("summarizer api key is empty; summary requests will fail", zap.String("provider", cfg.Summarizer.Provider))
	}

	ingester, closeIngester, err := newIngester(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeIngester()
	sched := scheduler.New(cfg.Source.IngestSchedule, ingester, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if cfg.Source.IngestOnStart {
		go func() {
			if err := sched.RunNow(ctx); err != nil {
				logger.Warn("startup ingestion", zap.Error(err))
			}
		}()
	}

	api := server.New(cfg, st, summarizer, sched, ingester, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      api.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shCtx)
	}()

	logger.Info("starting newsdigest", zap.String("addr", cfg.ListenAddress), zap.String("source", cfg.Source.URL))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := configFlag(fs)
	quiet := fs.Bool("quiet", false, "do not print the run report")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	ingester, closeIngester, err := newIngester(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeIngester()

	rep, runErr := ingester.Ingest(ctx)
	if rep != nil && !*quiet {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	return runErr
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := configFlag(fs)
	sqlFile := fs.String("sql-file", "", "SQL script to run before schema preparation")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx := context.Background()

	database, dialect, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if *sqlFile != "" {
		n, err := db.ExecFile(ctx, database, *sqlFile)
		if err != nil {
			return fmt.Errorf("run %s: %w", *sqlFile, err)
		}
		logger.Info("sql file executed", zap.String("path", *sqlFile), zap.Int("statements", n))
	}
	if err := store.New(database, dialect, logger.Named("store")).Prepare(ctx); err != nil {
		return fmt.Errorf("prepare schema: %w", err)
	}
	logger.Info("schema ready", zap.String("driver", string(dialect)))
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	if err := config.WriteDefault(*configPath); err != nil {
		return err
	}
	fmt.Printf("Created default config at %s. Set secrets (GROQ_API_KEY, DB_PASS) in the environment or .env, then run `newsdigest serve`.\n", *configPath)
	return nil
}
