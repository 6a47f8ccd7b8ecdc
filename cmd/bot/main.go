package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"autotrade/internal/api"
	"autotrade/internal/bot"
	"autotrade/internal/config"
	"autotrade/internal/models"
	"autotrade/internal/repository"
	"autotrade/internal/service"
	ws "autotrade/internal/websocket"
	"autotrade/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()

	logger.Info("Starting trading bot",
		utils.String("version", cfg.State.AppVersion),
		utils.Bool("database", cfg.Database.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Хранилище: Postgres в production, in-memory в dev-режиме
	var (
		stateRepo repository.StateRepository
		counters  repository.CounterRepository
	)
	if cfg.Database.Enabled {
		db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database %s: %w", cfg.Database.DSNWithoutPassword(), err)
		}

		stateRepo = repository.NewPostgresStateRepository(db)
		counters = repository.NewPostgresCounterRepository(db)
		logger.Info("Connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	} else {
		stateRepo = repository.NewMemoryStateRepository()
		counters = repository.NewMemoryCounterRepository()
		logger.Warn("Database disabled, using in-memory state repository")
	}

	dealRepo := repository.NewMemoryDealRepository()
	dealService := service.NewDealManager(dealRepo, logger)
	exchange := service.NewPaperExchange(logger)

	hub := ws.NewHub(logger)
	go hub.Run()

	notifications := make(chan *models.Notification, 256)
	go drainNotifications(ctx, notifications, logger)

	// Менеджер состояния
	manager := bot.NewStateManager(cfg.State, stateRepo, logger)
	manager.SetDealRepository(dealRepo)
	manager.SetOrderRepository(dealRepo)
	manager.SetCounterRepository(counters)
	manager.SetConfigProvider(config.NewProvider(cfg))
	manager.SetBroadcaster(hub)
	manager.SetNotificationChannel(notifications)

	// Stop-loss монитор
	analyzer := bot.NewOrderBookAnalyzer(cfg.OrderBook)
	monitor := bot.NewStopLossMonitor(cfg.StopLoss, dealService, exchange, exchange, analyzer, logger)
	monitor.SetNotificationChannel(notifications)

	manager.OnShutdown(func(context.Context) error {
		monitor.Stop()
		return nil
	})

	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize state manager: %w", err)
	}
	monitor.Start(ctx)

	// HTTP сервер (ops API + WebSocket + метрики)
	router := api.SetupRoutes(&api.Dependencies{
		StateManager:    manager,
		StopLossMonitor: monitor,
		StateRepo:       stateRepo,
		Hub:             hub,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", utils.Err(err))
		}
	}()

	// Сигналы ОС: SIGINT/SIGTERM - плавная остановка,
	// SIGUSR1 - внеплановый снапшот
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				if id := manager.CreateSystemSnapshot(ctx, models.SnapshotTypeManual); id != "" {
					logger.Info("Manual snapshot created", utils.SnapshotID(id))
				}
				continue
			}

			logger.Info("Termination signal received", utils.String("signal", sig.String()))
			ok := manager.RequestGracefulShutdown(ctx, models.ShutdownSystemSignal)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.State.ShutdownTimeout)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown error", utils.Err(err))
			}
			shutdownCancel()
			cancel()

			if !ok {
				return fmt.Errorf("graceful shutdown failed, emergency stop performed")
			}
			return nil

		case <-manager.ShutdownChannel():
			// Остановка запущена через API
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.State.ShutdownTimeout)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown error", utils.Err(err))
			}
			shutdownCancel()
			cancel()

			// Даём завершиться последовательности остановки
			waitForTerminalState(manager, cfg.State.ShutdownTimeout)
			return nil
		}
	}
}

// drainNotifications потребляет канал уведомлений и пишет их в лог.
// WebSocket рассылку выполняет сам StateManager через hub.
func drainNotifications(ctx context.Context, ch <-chan *models.Notification, logger *utils.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("Notification",
				utils.String("type", n.Type),
				utils.String("severity", n.Severity),
				utils.String("message", n.Message))
		}
	}
}

// waitForTerminalState ждёт пока менеджер дойдёт до STOPPED или ERROR
func waitForTerminalState(manager *bot.StateManager, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state := manager.CurrentState()
		if state == models.StateStopped || state == models.StateError {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
