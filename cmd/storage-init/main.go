package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")
	ctx := context.Background()

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		if err := createTable(ctx, connStr, envOr("TASKS_TABLE", "tasks")); err != nil {
			log.Fatalf("create table: %v", err)
		}
		if err := createQueue(ctx, connStr, envOr("CHANGES_QUEUE", "task-changes")); err != nil {
			log.Fatalf("create queue: %v", err)
		}
	}

	if url := os.Getenv("POSTGRES_URL"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := storage.NewPostgresBackend(pool).EnsureTable(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
	}

	log.Info("storage init complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table exists")
	}
	return nil
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Debug("queue exists")
	}
	return nil
}
