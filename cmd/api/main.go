package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/api/handlers"
	redisCache "github.com/schoolbot/backend/internal/cache/redis"
	"github.com/schoolbot/backend/internal/contextstore"
	"github.com/schoolbot/backend/internal/dedup"
	"github.com/schoolbot/backend/internal/delivery"
	"github.com/schoolbot/backend/internal/guard"
	"github.com/schoolbot/backend/internal/knowledge"
	"github.com/schoolbot/backend/internal/llm"
	"github.com/schoolbot/backend/internal/metrics"
	"github.com/schoolbot/backend/internal/pipeline"
	"github.com/schoolbot/backend/internal/storage/sqlite"
	"github.com/schoolbot/backend/pkg/config"
	appLogger "github.com/schoolbot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting school consultant bot")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(cfg.OpenAI)

	index := knowledge.NewIndex(
		cfg.RAG.KnowledgeBasePath,
		cfg.RAG.IndexDir,
		cfg.RAG.ChunkSize,
		llmClient,
	)
	if err := index.Load(); err != nil {
		appLogger.Fatal("Failed to load knowledge index", zap.Error(err))
	}
	metrics.IndexChunks.Set(float64(index.ChunkCount()))
	appLogger.Info("Knowledge index loaded", zap.Int("chunks", index.ChunkCount()))

	deduplicator := dedup.New(sqliteClient, llmClient, cfg.RAG.SimilarityThreshold)

	var replyCache pipeline.ReplyCache
	if cfg.Redis.Enabled {
		cache, err := redisCache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer cache.Close()
		replyCache = cache
	}

	senders := delivery.NewRegistry()
	if cfg.Telegram.BotToken != "" {
		senders.Register(delivery.ChannelTelegram,
			delivery.NewTelegramSender(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken))
	}
	if cfg.Jivo.BotToken != "" {
		senders.Register(delivery.ChannelJivo,
			delivery.NewJivoSender(cfg.Jivo.APIBaseURL, cfg.Jivo.BotToken))
	}

	spamFilter := guard.NewSpamFilter()

	composer := pipeline.NewComposer(
		pipeline.Config{
			SystemPrompt:   cfg.RAG.SystemPrompt,
			SupportChatURL: cfg.RAG.SupportChatURL,
			TopK:           cfg.RAG.TopK,
		},
		guard.NewRateLimiter(cfg.Limits.RateQuota, cfg.RateWindow()),
		spamFilter,
		contextstore.New(cfg.Limits.MaxContext, cfg.ContextTTL()),
		index,
		deduplicator,
		llmClient,
		senders,
		replyCache,
	)
	defer composer.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	messageHandler := handlers.NewMessageHandler(composer, senders)
	adminHandler := handlers.NewAdminHandler(index, deduplicator, composer)

	api := app.Group("/api/v1")

	api.Post("/messages", messageHandler.Submit)
	api.Post("/telegram/webhook", messageHandler.TelegramWebhook)
	api.Post("/jivo/webhook", messageHandler.JivoWebhook)

	admin := api.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.Admin.Username: cfg.Admin.Password,
		},
	}))
	admin.Post("/rebuild", adminHandler.RebuildIndex)
	admin.Get("/questions", adminHandler.ListQuestions)
	admin.Get("/questions/:id", adminHandler.GetQuestion)
	admin.Post("/blacklist/:channel/:user_id", adminHandler.Blacklist)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
			"chunks": index.ChunkCount(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
