package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/config"
	"github.com/Modar-SAD/task-nest/storage"
)

// change-relay moves change notifications from the storage queue to the
// Redis channel the board API instances listen on.
func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConnString)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	queue, err := storage.NewQueueClient(cfg.StorageConnString, cfg.ChangesQueue)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := storage.NewRelay(queue, storage.NewRedisNotifier(rc, cfg.ChangesChannel), logger, cfg.RelayBatchSize, cfg.RelayInterval)
	logger.WithField("queue", cfg.ChangesQueue).Info("change relay started")
	relay.Run(ctx)
	logger.Info("change relay stopped")
}
