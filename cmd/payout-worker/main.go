package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/group-seat-bookings/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/group-seat-bookings/internal/adapters/mongo"
	"github.com/robertarktes/group-seat-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/group-seat-bookings/internal/config"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
	"github.com/robertarktes/group-seat-bookings/internal/payout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "gsb-payout-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("gsb-payout-worker", cfg.LogLevel)

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
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	engine := ledger.NewEngine(repo.Ledger(), audit, logger, ledger.Options{PlatformWalletUserID: cfg.PlatformWalletID})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.PayoutQueue, 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", cfg.PayoutQueue, err)
	}
	go payout.NewWorker(engine, logger).Run(ctx, deliveries)
	logger.WithField("queue", cfg.PayoutQueue).Info("Payout worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown payout worker")
}
