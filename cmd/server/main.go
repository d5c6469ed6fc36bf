package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/stationchat/internal/api"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/config"
	"github.com/lalith-99/stationchat/internal/db"
	"github.com/lalith-99/stationchat/internal/hub"
	"github.com/lalith-99/stationchat/internal/middleware"
	"github.com/lalith-99/stationchat/internal/observ"
	"github.com/lalith-99/stationchat/internal/repository"
	"github.com/lalith-99/stationchat/internal/repository/postgres"
	"github.com/lalith-99/stationchat/internal/repository/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis only backs flood control. Without it the limiter is off.
	var (
		redisClient *goredis.Client
		limiter     repository.RateLimiter
	)
	if cfg.RedisURL != "" && cfg.RateLimitMessages > 0 {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		limiter = redis.NewRateLimiter(redisClient, cfg.RateLimitMessages, cfg.RateLimitWindow)
		logger.Info("flood control enabled",
			zap.Int("messages", cfg.RateLimitMessages),
			zap.Duration("window", cfg.RateLimitWindow),
		)
	} else {
		logger.Info("flood control disabled")
	}

	pool := database.Pool()
	messageRepo := postgres.NewMessageStore(pool)
	conversationRepo := postgres.NewConversationStore(pool)
	presenceRepo := postgres.NewPresenceStore(pool)
	userRepo := postgres.NewUserStore(pool)

	validator := auth.NewJWTValidator(cfg.JWTSecret)

	chat := hub.New(validator, messageRepo, presenceRepo, logger, hub.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		Limiter:          limiter,
	})
	wsServer := hub.NewServer(chat, hub.ServerOptions{
		AllowedOrigins: cfg.WSAllowedOrigins,
		SendBuffer:     cfg.WSSendBuffer,
	}, logger)

	historyHandler := api.NewHistoryHandler(messageRepo, logger)
	conversationHandler := api.NewConversationHandler(conversationRepo, logger)
	presenceHandler := api.NewPresenceHandler(presenceRepo, logger)
	userHandler := api.NewUserHandler(userRepo, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Public: load balancers and scrapers have no token.
	router.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"online":  chat.Registry().Count(),
			"limiter": limiter != nil,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The websocket authenticates in-band with its first envelope.
	router.GET("/ws", wsServer.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(validator))

	v1.GET("/users/me", userHandler.GetMe)

	chatGroup := v1.Group("/chat")
	chatGroup.GET("/branch", historyHandler.Branch)
	chatGroup.GET("/world", historyHandler.World)
	chatGroup.GET("/private/:peerId", historyHandler.Private)
	chatGroup.GET("/conversations", conversationHandler.List)
	chatGroup.DELETE("/conversations/:peerId", conversationHandler.Delete)
	chatGroup.POST("/read/:peerId", conversationHandler.MarkRead)
	chatGroup.GET("/unread", conversationHandler.Unread)
	chatGroup.POST("/online-status", presenceHandler.OnlineStatus)

	// No WriteTimeout: websocket pumps manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting stationchat",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
