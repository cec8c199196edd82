package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/api"
	"github.com/conceptviz/narration-gateway/internal/cache"
	"github.com/conceptviz/narration-gateway/internal/config"
	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/gateway"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/relay"
	"github.com/conceptviz/narration-gateway/internal/stream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("narration-gateway starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("tts", cfg.TTSURL),
		zap.String("realtime", cfg.RealtimeURL),
		zap.String("redis", cfg.RedisAddr),
	)

	catalog := diagram.NewCatalog()
	if cfg.TopicsPath != "" {
		if err := catalog.LoadFile(cfg.TopicsPath); err != nil {
			logger.Fatal("failed to load topics", zap.String("path", cfg.TopicsPath), zap.Error(err))
		}
	}

	narrationCache := cache.New(cfg.RedisAddr, cfg.CacheTTL, logger)
	defer narrationCache.Close()

	svc := narration.NewService(
		narration.NewHTTPTTSClient(cfg.TTSURL),
		narration.NewOpenAIClient(cfg.LLMURL, cfg.OpenAIAPIKey, cfg.LLMModel),
		narrationCache, catalog, cfg.TTSVoice, cfg.WordsPerMinute, logger)

	gw, err := gateway.New(cfg, svc, catalog, logger)
	if err != nil {
		logger.Fatal("failed to create gateway", zap.Error(err))
	}

	var audioRelay *relay.Relay
	if cfg.RelayAudio {
		audioRelay = relay.New(cfg.AllowPrivateAudio, logger)
	}

	hub := stream.NewHub(gw, cfg.TimingChunkSize, audioRelay, logger)
	gw.SetBroadcaster(hub)

	handlers := api.NewHandlers(gw, gw.Tokens(), logger)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Router(handlers, hub.ServeWS),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	gw.Shutdown()
}
