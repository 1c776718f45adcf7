// Package subscription turns change notifications published on Redis into
// snapshot pushes for the users subscribed in this process.
package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/storage"
)

// ReconnectDelay is the pause before resubscribing after the channel closed.
var ReconnectDelay = time.Second

// Listen consumes changes from channel and refreshes the affected user
// until ctx is cancelled.
func Listen(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, target storage.Refresher) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				change, err := storage.DecodeChange([]byte(msg.Payload))
				if err != nil || change.UserID == "" {
					logger.WithField("payload", msg.Payload).Warn("unable to parse change")
					continue
				}
				if err := target.Refresh(ctx, change.UserID); err != nil {
					logger.WithError(err).WithField("userId", change.UserID).Error("refresh snapshot")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}
