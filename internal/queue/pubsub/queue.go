// Package pubsub implements a scan queue backed by Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Config captures the parameters required to connect a queue to Pub/Sub.
type Config struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// Queue bridges Pub/Sub onto the enqueue/dequeue contract the dispatcher
// expects. Enqueue publishes scan jobs to the topic; a background receiver
// pulls from the subscription and hands messages to Dequeue callers. A
// message is acked only after a Dequeue caller has taken it.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	items  chan evidence.QueueItem
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	ownClient bool
}

// New creates a Pub/Sub client with Application Default Credentials and
// wires it to the configured topic and subscription.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	q, err := NewWithClient(ctx, client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after setup failure", zap.Error(closeErr))
		}
		return nil, err
	}
	q.ownClient = true
	return q, nil
}

// NewWithClient wires an existing client to the configured topic and
// subscription. The caller retains ownership of the client.
func NewWithClient(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}

	receiveCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		items:  make(chan evidence.QueueItem),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.receive(receiveCtx)
	return q, nil
}

// Enqueue publishes the scan job to the topic and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, item evidence.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until the receiver delivers a scan job or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (evidence.QueueItem, error) {
	select {
	case <-ctx.Done():
		return evidence.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			return evidence.QueueItem{}, fmt.Errorf("queue closed")
		}
		return item, nil
	}
}

// receive streams messages from the subscription into the items channel.
// Messages that fail to decode are acked and dropped so they do not spin
// through redelivery forever.
func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var item evidence.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.Warn("dropping undecodable queue message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive terminated", zap.Error(err))
	}
}

// Close stops the receiver, flushes the topic publisher, and, when the
// queue owns the client, closes it.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancel()
		<-q.done
		q.topic.Stop()
		close(q.items)
		if q.ownClient {
			if closeErr := q.client.Close(); closeErr != nil {
				err = fmt.Errorf("close pubsub client: %w", closeErr)
			}
		}
	})
	return err
}
