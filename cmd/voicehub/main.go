package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/middleware"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/monitoring"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/repositories"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/repositories/memory"
	"github.com/Patryk-Bura/discord-clone/internal/relay"
	"github.com/Patryk-Bura/discord-clone/pkg/config"
	"github.com/Patryk-Bura/discord-clone/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	directory := repoFactory.CreateConnectionDirectory()
	rosters := repoFactory.CreateChannelRosterRepository()
	users := memory.NewUserDirectory()

	var metrics relay.Metrics = relay.NoopMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewCollector(prometheus.DefaultRegisterer)
	}

	hubCfg := relay.HubConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxMessageBytes:   cfg.Relay.MaxMessageBytes,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Burst,
	}
	hub := relay.NewHub(hubCfg, users, log)
	service := relay.NewService(directory, rosters, users, hub, metrics, log)
	hub.SetService(service)

	validator := middleware.NewTokenValidator(cfg.Auth.JWTSecret)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.GET("/VoiceHub", middleware.RequireAuth(validator), hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": hub.ConnectionCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting voice hub on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
}
