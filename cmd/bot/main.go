package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"receipt-bot/constants"
	"receipt-bot/internal/config"
	"receipt-bot/internal/export"
	"receipt-bot/internal/llm"
	"receipt-bot/internal/llm/gemini"
	"receipt-bot/internal/llm/openai"
	"receipt-bot/internal/objstore"
	"receipt-bot/internal/ocr"
	"receipt-bot/internal/repository"
	"receipt-bot/internal/service"
	"receipt-bot/internal/taxonomy"
	"receipt-bot/internal/telegram"
	"receipt-bot/internal/validator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	taxo, err := taxonomy.Load()
	if err != nil {
		logger.Error("taxonomy load failed", "error", err)
		os.Exit(1)
	}

	// One provider instance per process, selected at startup.
	var (
		extractor llm.Extractor
		planner   llm.Planner
		responder llm.Responder
	)
	categories := constants.CategoriesAsStrings()
	switch cfg.LLM.Provider {
	case "gemini":
		client := gemini.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, categories, logger)
		extractor, planner, responder = client, client, client
	default:
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, categories, logger)
		extractor, planner, responder = client, client, client
	}

	var ocrRunner service.OCRRunner
	if cfg.OCR.Enabled {
		ocrRunner = ocr.NewExtractor(ocr.Config{
			Tesseract:     cfg.OCR.Tesseract,
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
			PSM:           cfg.OCR.PSM,
		}, logger)
	}

	images, err := objstore.NewFSStore(cfg.Storage.RootDir, logger)
	if err != nil {
		logger.Error("image store init failed", "error", err)
		os.Exit(1)
	}

	ingest := service.NewIngest(extractor, ocrRunner, validator.New(taxo), repo, images, logger)
	query := service.NewQueryService(planner, responder, repo, logger)
	exporter := export.NewService(repo, logger)

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Error("telegram init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bot authorized", "username", bot.Self.UserName)

	router := telegram.NewRouter(bot, telegram.Config{
		PhotoDebounce:  cfg.Telegram.PhotoDebounce,
		SeenCacheLimit: cfg.Telegram.SeenCacheLimit,
		MaxReplyLen:    cfg.Telegram.MaxReplyLen,
	}, ingest, query, exporter, repo, logger)

	router.Run(ctx)
	logger.Info("shutdown complete")
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.ReceiptRepository, error) {
	if cfg.Database.Driver == "sqlite" {
		return repository.OpenSQLite(cfg.Database.SQLitePath, logger)
	}

	pool, err := repository.OpenPool(ctx, repository.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := repository.HealthCheck(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return repository.NewPostgresRepository(pool, logger), nil
}
