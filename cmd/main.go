package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/weiawesome/melo-live/internal/auth"
	"github.com/weiawesome/melo-live/internal/config"
	"github.com/weiawesome/melo-live/internal/handler"
	"github.com/weiawesome/melo-live/internal/hub"
	"github.com/weiawesome/melo-live/internal/ident"
	"github.com/weiawesome/melo-live/internal/message"
	"github.com/weiawesome/melo-live/internal/mirror"
	"github.com/weiawesome/melo-live/internal/ratelimit"
	"github.com/weiawesome/melo-live/internal/registry"
	"github.com/weiawesome/melo-live/internal/relay"
	"github.com/weiawesome/melo-live/internal/room"
	"github.com/weiawesome/melo-live/internal/service"
	"github.com/weiawesome/melo-live/pkg/database"
	"github.com/weiawesome/melo-live/pkg/jwt"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
	"github.com/weiawesome/melo-live/pkg/middleware"
	"github.com/weiawesome/melo-live/pkg/pubsub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pkglog.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "melo-live",
	})
	logger := pkglog.L()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	logger.Info().
		Str("instance_id", instanceID).
		Int("port", cfg.Server.Port).
		Msg("starting realtime service")

	redisClient, err := database.NewRedis(database.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	reg := registry.NewRedisRegistry(redisClient, cfg.Redis.KeyPrefix, cfg.Presence.SessionTTL, cfg.Presence.OfflineTTL)
	rooms := room.NewRedisManager(redisClient, reg, room.Options{
		Prefix:      cfg.Redis.KeyPrefix,
		MetadataTTL: cfg.Room.MetadataTTL,
		TypingTTL:   cfg.Presence.TypingTTL,
		SessionTTL:  cfg.Presence.SessionTTL,
	})
	tracker := message.NewRedisTracker(redisClient, message.Options{
		Prefix:       cfg.Redis.KeyPrefix,
		RetentionTTL: cfg.Message.RetentionTTL,
		PageSize:     cfg.Message.HistoryPageSize,
		CacheTTL:     cfg.Message.HistoryCacheTTL,
	})
	limiter := ratelimit.NewSlidingWindowLimiter(redisClient, ratelimit.Options{
		Prefix: cfg.Redis.KeyPrefix,
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
	})

	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize jwt manager")
	}
	verifier := auth.NewJWTVerifier(jwtManager)

	var authorizer service.RoomAuthorizer
	if cfg.Auth.RoomServiceURL == "" {
		logger.Warn().Msg("room service url not set, all room access checks will pass")
		authorizer = auth.AllowAllAuthorizer{}
	} else {
		authorizer = auth.NewRoomServiceAuthorizer(cfg.Auth.RoomServiceURL, cfg.Auth.RequestTimeout)
	}

	var msgMirror mirror.Mirror = mirror.NoopMirror{}
	if cfg.Kafka.Enabled {
		m, err := mirror.NewConfluentMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka mirror")
		}
		msgMirror = m
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	bus := pubsub.NewRedisPubSub(redisClient)
	relayPub := relay.NewPublisher(bus, cfg.Redis.BroadcastChannel, instanceID)
	subscriber := relay.NewSubscriber(bus, cfg.Redis.BroadcastChannel, wsHub, instanceID)

	ctx, cancel := context.WithCancel(context.Background())
	go subscriber.Run(ctx)

	svc := service.NewRealtimeService(wsHub, reg, rooms, tracker, authorizer, relayPub, msgMirror, ident.NewULIDGenerator())

	metrics := hub.NewMetrics()
	wsHandler := handler.NewWSHandler(wsHub, svc, verifier, limiter, metrics, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(svc, metrics)

	router := mux.NewRouter()
	router.Use(pkglog.HTTPMiddleware(logger))
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router, middleware.NewAuthMiddleware(jwtManager))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	select {
	case <-subscriber.Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("relay subscriber did not stop in time")
	}

	wsHub.Stop()
	if err := svc.Stop(); err != nil {
		logger.Warn().Err(err).Msg("service shutdown reported an error")
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close redis client")
	}

	logger.Info().Msg("stopped")
}
