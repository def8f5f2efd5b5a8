// Package notifications fans thread change events out across processes through Redis.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"quizthread/internal/observability"

	"github.com/redis/go-redis/v9"
)

const threadChannelPrefix = "comments:thread:"

// ThreadChange is the payload published whenever a thread's comments change.
type ThreadChange struct {
	ThreadKey string `json:"threadKey"`
	CommentID string `json:"commentId,omitempty"`
	Operation string `json:"op"`
}

// Notifier provides helpers to publish thread changes into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishThreadChange announces a change on the thread's channel. A nil client is a no-op.
func (n *Notifier) PublishThreadChange(ctx context.Context, change ThreadChange) error {
	if !n.Enabled() {
		return nil
	}
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "publish")
	defer span.End()

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := n.rdb.Publish(ctx, ThreadChannel(change.ThreadKey), payload).Err(); err != nil {
		observability.RecordErrorInContext(ctx, err)
		return fmt.Errorf("publish thread change: %w", err)
	}
	observability.ThreadChangeEvents.WithLabelValues("redis").Inc()
	return nil
}

// StartThreadSubscriber subscribes to pattern `comments:thread:*` and calls onChange
// for each incoming event. It returns once the subscription is confirmed.
func (n *Notifier) StartThreadSubscriber(
	ctx context.Context, onChange func(change ThreadChange),
) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, threadChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe thread changes: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				change, err := decodeThreadChange(msg.Channel, msg.Payload)
				if err != nil {
					observability.GlobalLogger.Warn("dropping malformed thread change",
						"channel", msg.Channel, "error", err)
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("PANIC in ThreadSubscriber",
								"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
						}
					}()
					onChange(change)
				}()
			}
		}
	}()

	return nil
}

func decodeThreadChange(channel, payload string) (ThreadChange, error) {
	var change ThreadChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return ThreadChange{}, err
	}
	// The channel is authoritative for the thread key.
	if key, ok := strings.CutPrefix(channel, threadChannelPrefix); ok && key != "" {
		change.ThreadKey = key
	}
	if change.ThreadKey == "" {
		return ThreadChange{}, fmt.Errorf("missing thread key")
	}
	return change, nil
}

// ThreadChannel derives the Redis channel name for a thread.
func ThreadChannel(threadKey string) string {
	return threadChannelPrefix + threadKey
}
