// README: Scanner heartbeats buffered in Redis and flushed to Postgres on a ticker.
package scanner

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"maat/internal/logging"
	"maat/internal/observability"
	"maat/internal/types"
)

const heartbeatKey = "scanner:heartbeats"

// drainScript reads and clears the buffer atomically so a heartbeat recorded during a
// flush lands in the next one.
var drainScript = redis.NewScript(`
local v = redis.call('HGETALL', KEYS[1])
redis.call('DEL', KEYS[1])
return v
`)

// Heartbeats records the last time each scanner was seen. Without Redis it writes
// straight to the store.
type Heartbeats struct {
	redis *redis.Client
	store *Store
	log   *slog.Logger
}

func NewHeartbeats(rdb *redis.Client, store *Store, log *slog.Logger) *Heartbeats {
	return &Heartbeats{redis: rdb, store: store, log: logging.OrDiscard(log)}
}

func (h *Heartbeats) Touch(ctx context.Context, id types.ID, at time.Time) error {
	if h == nil {
		return nil
	}
	if h.redis == nil {
		return h.store.TouchHeartbeat(ctx, id, at)
	}
	return h.redis.HSet(ctx, heartbeatKey, string(id), at.UnixMilli()).Err()
}

// Flush moves buffered heartbeats into Postgres and returns how many were written.
// A failed write drops that heartbeat; the next tap records a fresh one.
func (h *Heartbeats) Flush(ctx context.Context) (int, error) {
	if h.redis == nil {
		return 0, nil
	}
	raw, err := drainScript.Run(ctx, h.redis, []string{heartbeatKey}).StringSlice()
	if err != nil {
		return 0, err
	}
	var firstErr error
	written := 0
	for i := 0; i+1 < len(raw); i += 2 {
		ms, err := strconv.ParseInt(raw[i+1], 10, 64)
		if err != nil {
			h.log.Warn("skip malformed heartbeat", slog.String("scanner_id", raw[i]), slog.String("value", raw[i+1]))
			continue
		}
		if err := h.store.TouchHeartbeat(ctx, types.ID(raw[i]), time.UnixMilli(ms).UTC()); err != nil {
			observability.HeartbeatFailures.Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	return written, firstErr
}

// RunHeartbeatFlusher flushes every interval until ctx is done, then flushes once more.
func RunHeartbeatFlusher(ctx context.Context, h *Heartbeats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if _, err := h.Flush(context.WithoutCancel(ctx)); err != nil {
				h.log.Error("final heartbeat flush failed", slog.Any("error", err))
			}
			return
		case <-ticker.C:
			n, err := h.Flush(ctx)
			if err != nil {
				h.log.Error("heartbeat flush failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				h.log.Debug("heartbeats flushed", slog.Int("count", n))
			}
		}
	}
}
