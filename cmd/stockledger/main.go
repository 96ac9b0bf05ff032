package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/reconciliation"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "verify":
		os.Exit(verify(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(jobsCommand(ctx, cfg, args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (serve, verify, jobs)\n", command)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.Database())
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, statistics cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := cfg.AsynqRedis()
	jobClient := jobs.NewClient(redisOpts, cfg.LedgerPostMaxRetry)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServiceDeps{
		Pool:    pool,
		Redis:   redisClient,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Retry:   jobClient,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		Metrics:               metrics,
		Database:              pool,
		InventoryHandler:      inventory.NewHandler(logger, services.Inventory),
		LedgerHandler:         ledger.NewHandler(logger, services.Ledger),
		ReconciliationHandler: reconciliation.NewHandler(logger, services.Reconciliation).WithScheduler(jobClient),
		AuditHandler:          audit.NewHandler(logger, services.Audit),
		JobHandler:            jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func verify(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	category := fs.String("category", "", "verify a single category")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.Database())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	services := app.NewServices(app.ServiceDeps{Pool: pool, Config: cfg, Logger: logger})
	return cli.VerifyCommand(ctx, services.Ledger, cli.VerifyOptions{CategoryID: *category, JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jobs stats | jobs trigger <task> [flags]")
		return 2
	}
	c := cli.NewJobsCLI(cfg.AsynqRedis())
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, s := range stats {
			fmt.Printf("%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: jobs trigger <task> [flags]")
			return 2
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		var opts cli.TriggerOptions
		fs.StringVar(&opts.ValidationID, "validation", "", "validation id for ledger:post")
		fs.IntVar(&opts.Year, "year", 0, "settlement year")
		fs.Int64Var(&opts.ActorID, "actor", 0, "acting operator for settlement generation")
		fs.IntVar(&opts.Limit, "limit", 100, "low stock report size")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := c.Trigger(ctx, args[1], opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}
