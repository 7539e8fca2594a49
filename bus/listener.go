package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signflow/agreement"
)

// Handler receives document store events. A non-nil return leaves the
// message pending so the stream redelivers it (at-least-once).
type Handler interface {
	HandleAgreementCreated(ctx context.Context, snap agreement.Agreement) error
	HandleAgreementUpdated(ctx context.Context, before, after agreement.Agreement) error
}

// Listener consumes the event stream through a consumer group and drives
// the trigger engine. Messages are acknowledged only after the handler
// succeeds; stalled deliveries are reclaimed from dead consumers.
type Listener struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	handler  Handler
	logger   *zap.Logger

	block     time.Duration
	claimIdle time.Duration
}

func NewListener(rdb *redis.Client, stream, group, consumer string, handler Handler, logger *zap.Logger) *Listener {
	return &Listener{
		rdb:       rdb,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		handler:   handler,
		logger:    logger,
		block:     5 * time.Second,
		claimIdle: time.Minute,
	}
}

// Run consumes until the context is canceled.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.ensureGroup(ctx); err != nil {
		return err
	}

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.group,
			Consumer: l.consumer,
			Streams:  []string{l.stream, ">"},
			Count:    16,
			Block:    l.block,
		}).Result()
		switch {
		case err == nil:
			for _, stream := range streams {
				l.consume(ctx, stream.Messages)
			}
		case errors.Is(err, redis.Nil):
			// No new entries within the block window.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			l.logger.Warn("event stream read failed", zap.Error(err))
			time.Sleep(time.Second)
		}

		if time.Since(lastClaim) >= l.claimIdle {
			l.reclaim(ctx)
			lastClaim = time.Now()
		}
	}
}

func (l *Listener) ensureGroup(ctx context.Context) error {
	err := l.rdb.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("bus: create consumer group: %w", err)
	}
	return nil
}

func (l *Listener) consume(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		if err := l.dispatch(ctx, msg.Values); err != nil {
			// Left pending for redelivery; the handler already logged and
			// ledgered the failure.
			l.logger.Warn("event handling failed",
				zap.Error(err),
				zap.String("message_id", msg.ID),
			)
			continue
		}
		if err := l.rdb.XAck(ctx, l.stream, l.group, msg.ID).Err(); err != nil {
			l.logger.Warn("event ack failed", zap.Error(err), zap.String("message_id", msg.ID))
		}
	}
}

// reclaim takes over deliveries stuck with dead consumers so they are not
// lost after a crash mid-handling.
func (l *Listener) reclaim(ctx context.Context) {
	msgs, _, err := l.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: l.consumer,
		MinIdle:  l.claimIdle,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("pending entry reclaim failed", zap.Error(err))
		return
	}
	l.consume(ctx, msgs)
}

// dispatch decodes one stream entry and routes it to the matching branch.
func (l *Listener) dispatch(ctx context.Context, values map[string]interface{}) error {
	payload, ok := values["payload"].(string)
	if !ok || payload == "" {
		return fmt.Errorf("bus: event entry missing payload")
	}

	var ev agreement.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("bus: decode event: %w", err)
	}

	switch ev.Kind {
	case agreement.EventCreated:
		return l.handler.HandleAgreementCreated(ctx, ev.After)
	case agreement.EventUpdated:
		if ev.Before == nil {
			return fmt.Errorf("bus: update event %s missing before snapshot", ev.AgreementID)
		}
		return l.handler.HandleAgreementUpdated(ctx, *ev.Before, ev.After)
	default:
		return fmt.Errorf("bus: unknown event kind %q", ev.Kind)
	}
}
