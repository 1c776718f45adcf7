package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Change announces that a user's tasks were written.
type Change struct {
	UserID   string `json:"userId"`
	Revision int64  `json:"revision"`
}

// DecodeChange parses a change notification payload.
func DecodeChange(data []byte) (Change, error) {
	var c Change
	err := sonic.Unmarshal(data, &c)
	return c, err
}

// Notifier publishes change notifications.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// Refresher pushes fresh snapshots to a user's subscribers.
type Refresher interface {
	Refresh(ctx context.Context, userID string) error
}

// LocalNotifier refreshes subscribers in the same process.
type LocalNotifier struct {
	Refresher Refresher
}

func (l LocalNotifier) Notify(ctx context.Context, change Change) error {
	return l.Refresher.Refresh(ctx, change.UserID)
}

// RedisNotifier publishes changes on a Redis channel.
type RedisNotifier struct {
	redis   *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{redis: client, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, change Change) error {
	data, err := sonic.Marshal(change)
	if err != nil {
		return err
	}
	return r.redis.Publish(ctx, r.channel, data).Err()
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueNotifier enqueues changes on an Azure storage queue. A Relay moves
// them to Redis.
type QueueNotifier struct {
	queue queueClient
}

// NewQueueClient connects to the named queue.
func NewQueueClient(connStr, queue string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
}

func NewQueueNotifier(queue queueClient) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (q *QueueNotifier) Notify(ctx context.Context, change Change) error {
	data, err := sonic.Marshal(change)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
