package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/expenseflow/cmd/expenseflow/cli"
	"github.com/odyssey-erp/expenseflow/internal/app"
	"github.com/odyssey-erp/expenseflow/internal/auth"
	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/expenses"
	"github.com/odyssey-erp/expenseflow/internal/notify"
	"github.com/odyssey-erp/expenseflow/internal/observability"
	"github.com/odyssey-erp/expenseflow/internal/platform/cache"
	"github.com/odyssey-erp/expenseflow/internal/platform/db"
	"github.com/odyssey-erp/expenseflow/internal/platform/lock"
	"github.com/odyssey-erp/expenseflow/internal/rbac"
	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
	"github.com/odyssey-erp/expenseflow/jobs"
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
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN, logger)
	case "rates":
		os.Exit(runRates(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q (serve, migrate, rates, jobs)\n", command)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrationsAuto {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PoolConfig("expenseflow-api"))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := lock.New(redisClient, lock.Options{Expiry: cfg.LockExpiry, Tries: cfg.LockTries}, logger)
	metrics := observability.NewMetrics()

	converter, err := newConverter(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	directoryService := directory.NewService(directory.NewRepository(dbpool), auditLogger, logger)
	workflowRepo := workflows.NewRepository(dbpool)
	workflowService := workflows.NewService(workflowRepo, directoryService, locker, auditLogger, logger)

	expenseService := expenses.NewService(expenses.Deps{
		Repo:            expenses.NewRepository(dbpool, logger),
		Workflows:       workflowRepo,
		Directory:       directoryService,
		Currency:        converter,
		Notifier:        notify.NewDispatcher(jobClient, logger),
		Locker:          locker,
		Idempotency:     idempotencyStore,
		Audit:           auditLogger,
		Metrics:         metrics,
		Logger:          logger,
		ReceiptMaxBytes: cfg.ReceiptMaxBytes,
		CallTimeout:     cfg.NotifyTimeout,
	})

	authService := auth.NewService(directoryService, auth.NewRepository(dbpool))
	rbacService := rbac.NewService(directoryService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager),
		DirectoryHandler:   directory.NewHandler(logger, directoryService),
		ExpenseHandler:     expenses.NewHandler(logger, expenseService, cfg.ReceiptMaxBytes),
		WorkflowHandler:    workflows.NewHandler(logger, workflowService),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		RBACMiddleware:     rbac.Middleware{Service: rbacService, Logger: logger},
		Metrics:            metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newConverter(cfg *app.Config, redisClient redis.UniversalClient, logger *slog.Logger) (*currency.Service, error) {
	fallback, err := currency.LoadFallback(cfg.RatesFallbackFile)
	if err != nil {
		return nil, err
	}
	var rateCache currency.RateCache
	if redisClient != nil {
		rateCache = currency.NewRedisCache(redisClient, cfg.RatesCacheTTL)
	}
	var source currency.RateSource
	if cfg.RatesAPIURL != "" {
		source = currency.NewHTTPSource(cfg.RatesAPIURL, cfg.RatesTimeout, logger)
	}
	return currency.NewService(source, rateCache, fallback, cfg.RatesTimeout, logger), nil
}

func runRates(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: expenseflow rates <convert|coverage> [flags]")
		return 2
	}
	converter, err := newConverter(cfg, nil, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rates: %v\n", err)
		return 1
	}
	ratesCLI, err := cli.NewRatesCLI(converter)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rates: %v\n", err)
		return 1
	}

	switch args[0] {
	case "convert":
		fs := flag.NewFlagSet("rates convert", flag.ContinueOnError)
		amount := fs.String("amount", "", "amount to convert")
		from := fs.String("from", "", "source currency code")
		to := fs.String("to", "", "target currency code")
		asJSON := fs.Bool("json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return ratesCLI.ConvertCommand(ctx, cli.ConvertOptions{Amount: *amount, From: *from, To: *to, JSONOutput: *asJSON})
	case "coverage":
		fs := flag.NewFlagSet("rates coverage", flag.ContinueOnError)
		base := fs.String("base", "USD", "base currency the table must price against")
		codes := fs.String("codes", "", "comma separated currency codes, default every code in the table")
		asJSON := fs.Bool("json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		var list []string
		if *codes != "" {
			list = strings.Split(*codes, ",")
		}
		return ratesCLI.CoverageCommand(ctx, cli.CoverageOptions{Base: *base, Codes: list, JSONOutput: *asJSON})
	default:
		_, _ = fmt.Fprintf(os.Stderr, "rates: unknown sub-command %q\n", args[0])
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: expenseflow jobs <trigger NAME|stats>")
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], cfg.IdempotencyRetention)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(os.Stdout, "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(os.Stderr, "jobs: unknown sub-command %q\n", args[0])
		return 2
	}
}
