package main

import (
	"context"
	"log"
	"net/http"
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
	httphandler "github.com/robertarktes/group-seat-bookings/internal/http"
	"github.com/robertarktes/group-seat-bookings/internal/idempotency"
	"github.com/robertarktes/group-seat-bookings/internal/invite"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
	"github.com/robertarktes/group-seat-bookings/internal/outbox"
	"github.com/robertarktes/group-seat-bookings/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "gsb-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger("gsb-api", cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)
	if err := crdbRepo.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	if err := audit.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to create audit indexes")
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	holds := redisadapter.NewSeatHolds(redisClient, cfg.HoldTTL)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisClient, logger)

	notifier := outbox.NewFanout(outbox.NewNotifier(crdbRepo), audit)
	manager := invite.NewManager(crdbRepo.Invites(), holds, notifier, catalog, logger, invite.Options{
		HoldDurationMinutes: cfg.SeatHoldMinutes,
		Cutoff:              cfg.InviteCutoff,
		JoinRetries:         cfg.JoinRetries,
		ReleaseAttempts:     3,
		ReleaseBackoff:      200 * time.Millisecond,
	})
	engine := ledger.NewEngine(crdbRepo.Ledger(), audit, logger, ledger.Options{PlatformWalletUserID: cfg.PlatformWalletID})

	jwtKey, err := httphandler.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to parse jwt key: %v", err)
	}
	if jwtKey == nil {
		logger.Warn("JWT_PUBLIC_KEY not set, trusting X-User-ID header")
	}

	handlers := httphandler.NewHandlers(manager, engine, catalog, map[string]httphandler.Pinger{
		"crdb":  crdbRepo,
		"mongo": httphandler.PingFunc(func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }),
		"redis": httphandler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}, cfg.PlatformFeePercent)

	r := httphandler.SetupRouter(handlers, httphandler.RouterDeps{
		Logger:      logger,
		JWTKey:      jwtKey,
		RateLimiter: rl,
		Limits:      httphandler.Limits{PerUser: cfg.RateLimitUser, PerIP: cfg.RateLimitIP},
		Idempotency: idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
