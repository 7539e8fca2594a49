// Package bus moves agreement mutation events from the transactional
// outbox to a Redis stream and feeds them to the trigger engine with
// at-least-once delivery.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay drains pending outbox rows into the Redis stream. Rows are locked
// with SKIP LOCKED so multiple relay instances never double-publish within
// one polling round; a crash between publish and commit re-publishes, which
// downstream handlers tolerate.
type Relay struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	stream   string
	batch    int
	interval time.Duration
	logger   *zap.Logger
}

func NewRelay(pool *pgxpool.Pool, rdb *redis.Client, stream string, batch int, interval time.Duration, logger *zap.Logger) *Relay {
	if batch <= 0 {
		batch = 64
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{pool: pool, rdb: rdb, stream: stream, batch: batch, interval: interval, logger: logger}
}

// Run polls until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.relayOnce(ctx); err != nil {
				r.logger.Warn("outbox relay round failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) relayOnce(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bus: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
SELECT id, topic, payload
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, selectSQL, r.batch)
	if err != nil {
		return fmt.Errorf("bus: select pending: %w", err)
	}

	type pending struct {
		id      string
		topic   string
		payload []byte
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.topic, &p.payload); err != nil {
			rows.Close()
			return fmt.Errorf("bus: scan outbox row: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("bus: iterate outbox rows: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, 0, len(batch))
	for _, p := range batch {
		err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]interface{}{
				"topic":   p.topic,
				"payload": string(p.payload),
			},
		}).Err()
		if err != nil {
			// Rows stay pending and are retried next round.
			return fmt.Errorf("bus: publish %s: %w", p.id, err)
		}
		ids = append(ids, p.id)
	}

	const markSQL = `UPDATE outbox SET status = 'sent', attempts = attempts + 1 WHERE id = ANY($1)`
	if _, err := tx.Exec(ctx, markSQL, ids); err != nil {
		return fmt.Errorf("bus: mark sent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bus: commit relay round: %w", err)
	}

	r.logger.Debug("outbox relayed", zap.Int("count", len(ids)))
	return nil
}
