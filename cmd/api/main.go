package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/orbis-track/borrow-service/internal/api/http"
	"github.com/orbis-track/borrow-service/internal/api/http/handlers"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/directory"
	"github.com/orbis-track/borrow-service/internal/events"
	"github.com/orbis-track/borrow-service/internal/observability"
	"github.com/orbis-track/borrow-service/internal/persistence"
	"github.com/orbis-track/borrow-service/internal/repository"
	"github.com/orbis-track/borrow-service/internal/repository/memory"
	"github.com/orbis-track/borrow-service/internal/service"
	"github.com/orbis-track/borrow-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := config.LoadChainPolicy(cfg.Approval.ChainFile)
	if err != nil {
		logger.Fatal("failed to load approval chain policy", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		store    repository.Store
		userRepo repository.UserRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		store = repository.NewPostgresStore(pool)
		userRepo = repository.NewUserRepository(pool)
	} else {
		mem := memory.NewStore()
		if cfg.Postgres.MemorySeedFile != "" {
			if err := mem.LoadSeedFile(cfg.Postgres.MemorySeedFile); err != nil {
				logger.Fatal("failed to seed in-memory store", zap.Error(err))
			}
		}
		store = mem
		userRepo = mem.Users()
	}

	dir := directory.NewCachedDirectory(
		directory.NewRepositoryDirectory(userRepo),
		redis.Handle(),
		cfg.Directory.CacheTTL(),
		logger.Named("directory"),
	)

	dispatcher := events.NewInMemoryDispatcher(logger.Named("events"))
	notifications := service.NewNotificationService(logger.Named("notifications"), cfg.Notification)
	notifyWorker := worker.StartNotificationWorker(ctx, dispatcher, notifications, logger.Named("worker"), 256)

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:      store,
		Directory:  dir,
		Chain:      service.NewChainResolver(policy, dir),
		Dispatcher: dispatcher,
		Logger:     logger.Named("tickets"),
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo)
	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	deps := map[string]handlers.Pinger{"postgres": pg}
	if redis.Handle() != nil {
		deps["redis"] = redis
	}
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, metrics),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Approvals:      handlers.NewApprovalsHandler(ticketService),
		Devices:        handlers.NewDevicesHandler(ticketService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	notifyWorker.Stop()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
