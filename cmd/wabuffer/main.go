package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/draftpilot/wabuffer/internal/api"
	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
	"github.com/draftpilot/wabuffer/internal/conf"
	"github.com/draftpilot/wabuffer/internal/data"
	"github.com/draftpilot/wabuffer/internal/infra/openai"
	"github.com/draftpilot/wabuffer/internal/infra/whatsapp"
	"github.com/draftpilot/wabuffer/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := conf.Load()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	repos, err := data.NewRepositories(cfg.StoreDSN)
	if err != nil {
		log.Error("failed to open store", "dsn", cfg.StoreDSN, "error", err)
		os.Exit(1)
	}
	defer repos.Close()
	log.Info("store opened", "dsn", cfg.StoreDSN)

	flags := usecase.NewFeatureFlags(cfg.Flags)
	bufferCfg := cfg.BufferConfig()

	var channel repo.ChannelRepo
	if cfg.WhatsAppBaseURL != "" {
		channel = whatsapp.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppToken, log)
	}

	var processor repo.ProcessorRepo
	if cfg.OpenAIAPIKey != "" && channel != nil {
		processor = openai.NewProcessor(cfg.OpenAIAPIKey, cfg.OpenAIModel, channel, flags, log)
	} else {
		// No downstream configured: close buffers but only log the result.
		// Useful for local runs against real webhook traffic.
		log.Warn("openai or whatsapp not configured, running with log-only processor")
		processor = &logProcessor{log: log}
	}

	bufferUC := usecase.NewBufferUsecase(repos.Buffer, repos.Conversation, repos.Job, bufferCfg, log)
	closerUC := usecase.NewCloserUsecase(repos.Buffer, repos.Conversation, repos.Job,
		processor, channel, flags, bufferCfg, log)

	ingest := service.NewIngestService(bufferUC, closerUC, flags, log)
	scheduler := service.NewCloseScheduler(closerUC, repos.Buffer, repos.Job, bufferCfg, log)
	server := api.NewServer(ingest, cfg.HTTPPort, log)

	if err := scheduler.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error("webhook server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

type logProcessor struct {
	log *slog.Logger
}

func (p *logProcessor) ProcessAggregated(ctx context.Context, agg *domain.AggregatedConversation) error {
	p.log.Info("aggregated conversation ready",
		"buffer_id", agg.BufferID,
		"conversation_id", agg.ConversationID,
		"messages", len(agg.Messages))
	return nil
}
