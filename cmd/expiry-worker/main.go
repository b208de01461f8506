package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/group-seat-bookings/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/group-seat-bookings/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/group-seat-bookings/internal/adapters/redis"
	"github.com/robertarktes/group-seat-bookings/internal/config"
	"github.com/robertarktes/group-seat-bookings/internal/invite"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
	"github.com/robertarktes/group-seat-bookings/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "gsb-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("gsb-expiry-worker", cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	manager := invite.NewManager(
		repo.Invites(),
		redisadapter.NewSeatHolds(redisClient, cfg.HoldTTL),
		outbox.NewFanout(outbox.NewNotifier(repo), audit),
		mongoadapter.NewCatalogRepository(mongoDB, logger),
		logger,
		invite.Options{
			HoldDurationMinutes: cfg.SeatHoldMinutes,
			Cutoff:              cfg.InviteCutoff,
			JoinRetries:         cfg.JoinRetries,
			ReleaseAttempts:     5,
			ReleaseBackoff:      500 * time.Millisecond,
		},
	)
	sweeper := invite.NewSweeper(manager, repo.Invites(), logger, cfg.SweepBatch, cfg.SweepConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}
