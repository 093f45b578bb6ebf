// Package main - transcript backend entry point
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"connect-chat/internal/adapters/gateway"
	"connect-chat/internal/adapters/handler"
	"connect-chat/internal/adapters/repository"
	"connect-chat/internal/adapters/websocket"
	"connect-chat/internal/config"
	"connect-chat/internal/core/ports"
	"connect-chat/internal/core/services"
	"connect-chat/internal/logger"
)

func main() {
	fmt.Println("=== Connect Chat Transcript Backend ===")

	// 1. Configuration
	fmt.Println("[1/5] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	slog.SetDefault(logger.New(cfg.App.LogLevel, cfg.App.LogFormat))
	fmt.Printf("✓ Config loaded (participant: %s, redis: %q)\n", cfg.Connect.ParticipantURL, cfg.Redis.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Dedup store and fetch lock
	fmt.Println("[2/5] Initializing repositories...")
	var (
		dedup ports.DedupRepository
		lock  ports.FetchLock
	)
	if cfg.Redis.Addr != "" {
		rdb := connectRedis(ctx, cfg.Redis, 5, 2*time.Second)
		defer rdb.Close()
		dedup = repository.NewRedisRepository(rdb)
		lock = repository.NewRedisFetchLock(rdb, instanceOwner())
		fmt.Println("✓ Redis repositories ready")
	} else {
		dedup = repository.NewMemoryRepository()
		lock = repository.NewMemoryFetchLock()
		fmt.Println("✓ In-memory repositories ready (REDIS_ADDR empty)")
	}

	// 3. Services
	fmt.Println("[3/5] Initializing services...")
	client := gateway.NewParticipantClient(cfg.Connect.ParticipantURL, cfg.Connect.StartChatURL)
	hub := websocket.NewSnapshotHub(cfg.App.MeshSecret)
	go hub.Run(ctx)

	manager := services.NewSessionManager(
		services.SessionConfig{
			PendingMatchWindow: cfg.Transcript.PendingMatchWindow,
			DedupTTL:           cfg.Transcript.DedupTTL,
			FetchLockTTL:       cfg.Transcript.FetchLockTTL,
			PageSize:           cfg.Transcript.PageSize,
		},
		client, // TranscriptSource
		client, // MessageSender
		dedup,
		lock,
		hub, // SnapshotPublisher
	)

	watchdog := services.NewWatchdog(manager, services.WatchdogConfig{
		Interval:   cfg.Transcript.WatchdogInterval,
		IdleLimit:  cfg.Transcript.SessionIdle,
		MemPercent: cfg.Transcript.WatchdogMemPercent,
	})
	go watchdog.Run(ctx)
	fmt.Println("✓ Services initialized")

	// 4. HTTP
	fmt.Println("[4/5] Initializing HTTP handlers...")
	router := handler.NewRouter(handler.RouterDeps{
		Transcript:     handler.NewTranscriptHandler(manager),
		StartChat:      handler.NewStartChatHandler(client, cfg.Connect.InstanceID, cfg.Connect.ContactFlowID),
		System:         handler.NewSystemHandler(manager, cfg.Transcript.WatchdogMemPercent),
		SnapshotStream: hub.ServeWS,
		AllowedOrigins: cfg.App.AllowedOrigins,
	})
	fmt.Println("✓ Handlers initialized")

	// 5. Serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("[5/5] HTTP server listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

// connectRedis pings Redis with retry; containers may still be starting
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb
		}
		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)
		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil
}

// instanceOwner identifies this process as a fetch lock holder
func instanceOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()
}
