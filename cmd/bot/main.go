package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/database"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/metrics"
	"github.com/digkill/SoraVideoBot/internal/pending"
	"github.com/digkill/SoraVideoBot/internal/repository"
	"github.com/digkill/SoraVideoBot/internal/server"
	"github.com/digkill/SoraVideoBot/internal/service"
	"github.com/digkill/SoraVideoBot/internal/storage"
	"github.com/digkill/SoraVideoBot/internal/telegram"
	"github.com/digkill/SoraVideoBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	for _, off := range cfg.Disabled() {
		logr.Warn("integration disabled", "setting", off)
	}
	logr.Info("configuration loaded",
		"telegram_mode", cfg.TelegramMode,
		"kie_api_key", config.MaskSecret(cfg.KIEAPIKey),
		"callback_url", cfg.CallbackURL(),
		"listen", cfg.HTTPListenAddr,
	)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	kieClient := kie.NewClient(cfg, logr)
	store := newPendingStore(ctx, cfg, logr)

	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	generationRepo := repository.NewGenerationRepository(db)

	ledger := service.NewLedgerService(logr, userRepo, cfg.DefaultLanguage)
	userService := service.NewUserService(userRepo)
	planService := service.NewPlanService(cfg, planRepo)
	generationService := service.NewGenerationService(logr, ledger, store, kieClient, generationRepo, m)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, ledger, planService, m)

	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	if cfg.S3Enabled() {
		archive, err := storage.NewVideoArchive(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("video archive: %v", err)
		}
		generationService.SetArchiver(archive)
	}

	bot := telegram.NewBot(cfg, botAPI, logr, ledger, generationService, paymentService, planService)
	generationService.SetMessenger(bot)
	paymentService.SetNotifier(bot)

	deps := server.Deps{
		Generation: generationService,
		Payments:   paymentService,
		Plans:      planService,
		Ledger:     ledger,
		Users:      userService,
		Messenger:  bot,
		Tasks:      kieClient,
		Gatherer:   prometheus.DefaultGatherer,
	}
	if cfg.TelegramMode == config.TelegramModeWebhook {
		deps.Updates = bot
	}
	httpServer := server.New(cfg, logr, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gctx)
	})
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

// newPendingStore uses Redis when it is configured and reachable and keeps
// pending tasks in process memory otherwise.
func newPendingStore(ctx context.Context, cfg config.Config, logr *slog.Logger) pending.Store {
	if cfg.RedisAddr == "" {
		return pending.NewMemoryStore(cfg.PendingTTL)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logr.Error("redis unavailable, keeping pending tasks in memory", "addr", cfg.RedisAddr, "err", err)
		_ = rdb.Close()
		return pending.NewMemoryStore(cfg.PendingTTL)
	}
	return pending.NewRedisStore(rdb, cfg.PendingTTL)
}
