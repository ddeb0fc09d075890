package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"soma-bot/internal/bot"
	"soma-bot/internal/catalog"
	"soma-bot/internal/config"
	"soma-bot/internal/conversation"
	"soma-bot/internal/dispatch"
	"soma-bot/internal/metrics"
	"soma-bot/internal/server"
	"soma-bot/internal/storage/excel"
	"soma-bot/internal/storage/memory"
	"soma-bot/internal/storage/postgres"
	"soma-bot/internal/storage/redis"
	"soma-bot/internal/storage/sheets"
	"soma-bot/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	housekeepingSchedule = "@every 10m"
	limiterIdle          = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Bot stopped with error", zap.Error(err))
	}

	zapLogger.Info("Bot shutdown gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	log.Info("Catalog loaded", zap.Int("products", len(cat.Products())))

	m := metrics.New()

	store, sweeper, closeStore, err := openSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	tgBot, err := bot.New(cfg.TelegramToken, cat, log)
	if err != nil {
		return err
	}

	finalizer := conversation.NewFinalizer(m.InstrumentSink(cfg.Sink, sink), log,
		conversation.WithSinkTimeout(cfg.SinkTimeout),
		conversation.WithNotifier(tgBot.AdminNotifier(cfg.AdminChatID)),
		conversation.WithObserver(m.ObserveReceipt))
	machine := conversation.NewMachine(cat, finalizer, log)

	limiter := dispatch.NewLimiter(cfg.Dispatch.RateLimitPerSec, cfg.Dispatch.RateLimitBurst)
	dispatcher := dispatch.New(machine, store, tgBot, log,
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithEventTimeout(cfg.Dispatch.EventTimeout),
		dispatch.WithLimiter(limiter),
		dispatch.WithRecorder(m))

	routes := server.Routes{Metrics: m.Handler()}
	if cfg.Mode == config.ModeWebhook {
		routes.WebhookPath = cfg.WebhookPath
		routes.Webhook = tgBot.WebhookHandler(dispatcher)
	}
	httpServer := server.New(cfg.Port, server.NewRouter(routes, log), log)

	housekeeping := cron.New()
	if _, err := housekeeping.AddFunc(housekeepingSchedule, func() {
		fields := []zap.Field{zap.Int("limiters_removed", limiter.Cleanup(limiterIdle))}
		if sweeper != nil {
			fields = append(fields, zap.Int("sessions_removed", sweeper.Sweep(cfg.Redis.SessionTTL)))
		}
		log.Debug("Housekeeping done", fields...)
	}); err != nil {
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}
	housekeeping.Start()
	defer housekeeping.Stop()

	if cfg.Mode == config.ModeWebhook {
		if err := tgBot.SetWebhook(strings.TrimRight(cfg.WebhookURL, "/") + cfg.WebhookPath); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx) })
	if cfg.Mode == config.ModePolling {
		g.Go(func() error { return tgBot.Run(gctx, dispatcher) })
	}

	return g.Wait()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

// openSessionStore returns the memory store as sweeper when sessions are
// kept in process. Redis expires them itself.
func openSessionStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (conversation.SessionStore, *memory.SessionStore, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("Keeping sessions in memory")
		store := memory.NewSessionStore()
		return store, store, func() {}, nil
	}

	store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SessionTTL)
	if err := store.Ping(ctx, log); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	log.Info("Keeping sessions in Redis", zap.String("addr", cfg.Redis.Addr))
	return store, nil, store.Close, nil
}

func openSink(ctx context.Context, cfg *config.Config, log *zap.Logger) (conversation.OrderSink, func(), error) {
	switch cfg.Sink {
	case config.SinkPostgres:
		sink, err := postgres.NewSink(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, sink.DB().DB, log); err != nil {
			_ = sink.Close()
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil

	case config.SinkExcel:
		log.Info("Writing orders to workbook", zap.String("path", cfg.Excel.Path))
		return excel.NewSink(cfg.Excel.Path, log), func() {}, nil

	default:
		sink, err := sheets.NewSink(ctx, cfg.Sheets, log)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	}
}
