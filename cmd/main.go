package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feishu_dify_bridge/internal/config"
	"feishu_dify_bridge/internal/infrastructure"
	"feishu_dify_bridge/internal/interfaces"
	httpapi "feishu_dify_bridge/internal/interfaces/http"
	"feishu_dify_bridge/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := infrastructure.NewLogger("info", "console")
		bootLog.Fatal().Err(err).Msg("cannot start")
	}

	log := infrastructure.NewLogger(cfg.LogLevel, cfg.LogFormat)

	// Conversation store
	var conversations interfaces.ConversationStore = infrastructure.NewSessionManager()
	if cfg.ConversationDBPath != "" {
		store, err := infrastructure.OpenSQLiteConversationStore(cfg.ConversationDBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.ConversationDBPath).Msg("failed to open conversation store")
		}
		defer store.Close()
		conversations = store
		log.Info().Str("path", cfg.ConversationDBPath).Msg("conversations persisted to sqlite")
	}

	// Clients
	difyClient := infrastructure.NewDifyClient(cfg.DifyAPIEndpoint, cfg.DifyAPIKey, cfg.Streaming(), cfg.DifyTimeout, log)
	feishuClient := infrastructure.NewFeishuClient(cfg.FeishuBaseURL, cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuTimeout, log)

	var serviceOpts []usecases.MessageServiceOption
	if cfg.FallbackMessage != "" {
		serviceOpts = append(serviceOpts, usecases.WithFallbackMessage(cfg.FallbackMessage))
	}
	messageService := usecases.NewMessageService(difyClient, feishuClient, conversations, log, serviceOpts...)

	handlerCfg := httpapi.HandlerConfig{
		VerificationToken: cfg.FeishuVerificationToken,
		// token fetch and send each get their own timeout
		ProcessTimeout: cfg.DifyTimeout + 2*cfg.FeishuTimeout,
	}
	if cfg.DedupeEvents {
		dedup := infrastructure.NewEventDeduplicator(cfg.DedupeTTL)
		defer dedup.Close()
		handlerCfg.Dedup = dedup
	}
	handler := httpapi.NewHandler(messageService, handlerCfg, log)

	// Setup HTTP server
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware := httpapi.NewMiddleware(log)
	defer middleware.Close()
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	httpapi.SetupRoutes(r, handler, middleware, httpapi.RouteOptions{
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
		RateLimit:    cfg.WebhookRateLimit,
		RateBurst:    cfg.WebhookRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("dify_mode", cfg.DifyResponseMode).
			Bool("dedupe_events", cfg.DedupeEvents).
			Msg("bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdown(srv, handler, log)
}

// shutdown stops accepting requests, then waits for replies still in flight.
func shutdown(srv *http.Server, handler *httpapi.Handler, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}

	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all replies delivered")
	case <-ctx.Done():
		log.Warn().Msg("shutdown timed out with replies in flight")
	}
}
