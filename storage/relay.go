package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

type queueReader interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Relay drains change messages from a queue and republishes them.
type Relay struct {
	queue    queueReader
	target   Notifier
	logger   *log.Logger
	batch    int32
	interval time.Duration
}

// NewRelay creates a relay reading up to batch messages per poll and
// sleeping interval when the queue is empty.
func NewRelay(queue queueReader, target Notifier, logger *log.Logger, batch int, interval time.Duration) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if batch <= 0 || batch > 32 {
		batch = 32
	}
	return &Relay{queue: queue, target: target, logger: logger, batch: int32(batch), interval: interval}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		n, err := r.Drain(ctx)
		if err != nil {
			r.logger.WithError(err).Error("relay changes")
		}
		if ctx.Err() != nil {
			return
		}
		if n == 0 || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.interval):
			}
		}
	}
}

// Drain relays one batch and returns the number of messages handled.
// Messages are deleted once published; malformed ones are dropped.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	resp, err := r.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: &r.batch})
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		entry := r.logger.WithField("messageId", *msg.MessageID)
		if msg.MessageText != nil {
			change, err := DecodeChange([]byte(*msg.MessageText))
			if err != nil || change.UserID == "" {
				entry.WithError(err).Warn("dropping malformed change message")
			} else if err := r.target.Notify(ctx, change); err != nil {
				// left on the queue; it becomes visible again after the timeout
				return handled, err
			}
		}
		if _, err := r.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			entry.WithError(err).Warn("delete change message")
		}
		handled++
	}
	return handled, nil
}
