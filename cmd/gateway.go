package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatrelay/convoengine/internal/analytics"
	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/config"
	"github.com/chatrelay/convoengine/internal/contactctx"
	"github.com/chatrelay/convoengine/internal/extraction"
	"github.com/chatrelay/convoengine/internal/handover"
	"github.com/chatrelay/convoengine/internal/knowledge"
	"github.com/chatrelay/convoengine/internal/leadqual"
	"github.com/chatrelay/convoengine/internal/llmclient"
	"github.com/chatrelay/convoengine/internal/message"
	"github.com/chatrelay/convoengine/internal/rag"
	"github.com/chatrelay/convoengine/internal/scheduler"
	"github.com/chatrelay/convoengine/internal/store/pg"
	"github.com/chatrelay/convoengine/internal/telemetry"
	"github.com/chatrelay/convoengine/internal/webhook"
)

const ragModel = "claude-3-5-sonnet-20241022"

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stores, lock, err := pg.NewPGStores(cfg.Database.DSN, cfg.APIKeyEncryptionKey)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}

	ch := channel.New(cfg.ChannelAPIURL, cfg.ChannelAPIToken,
		channel.NewRateLimiter(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.MessagesPerHour))
	llm := llmclient.New(stores.APIKeys, cfg.APIKeyEncryptionKey, cfg.LLMAPIKey)

	docs := knowledge.New(stores.Knowledge, llm)
	ctxStore := contactctx.New(stores.Contacts, stores.ConversationStates)
	extractor := extraction.New(llm)
	handoverClass := handover.New(llm)
	leadQualifier := leadqual.New(llm, cfg.Lead.DiscoveryCallCooldown)
	sink := analytics.New(stores.Analytics, 0)
	defer sink.Close()
	ragHandler := rag.New(llm, docs, ragModel, cfg.CalendlyDiscoveryURL, sink)

	proc := message.New(message.Config{
		Contacts:      stores.Contacts,
		Conversations: stores.Conversations,
		Messages:      stores.Messages,
		ContactCtx:    ctxStore,
		Extractor:     extractor,
		Handover:      handoverClass,
		LeadQualifier: leadQualifier,
		RAG:           ragHandler,
		Channel:       ch,
		SelfNumber:    cfg.ChannelSelfNumber,
	})

	router := webhook.New(stores.WebhookEvents, stores.Messages, cfg.Gateway.InboundQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.RunWorkers(ctx, cfg.Gateway.ProcessingWorkers, proc)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(stores.ScheduledMessages, stores.Conversations, stores.Contacts, ch, cfg.Scheduler, lock)
		go sched.Run(ctx)
	} else {
		slog.Info("scheduler disabled", "web_concurrency", cfg.Gateway.WebConcurrency)
	}

	mux := http.NewServeMux()
	mux.Handle("/webhook", router)
	mux.Handle("/admin/webhook-events/ws", router.LiveTail())

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: mux,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway server failed", "error", err)
		}
	}()

	<-sigCh
	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
}
