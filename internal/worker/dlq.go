package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vwinv/backend-almadina/internal/dto"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DLQPrefix namespaces the dead letter list of each source queue:
// dlq:{original_queue}.
const DLQPrefix = "dlq:"

// DLQEntry is a ledger-event job that could not be handled, kept for replay.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"` // ISO 8601
	Attempts      int             `json:"attempts"`
}

// LedgerEvent decodes the parked payload. ok is false for malformed jobs.
func (e DLQEntry) LedgerEvent() (ev dto.LedgerEvent, ok bool) {
	if e.JobType == "" || json.Unmarshal(e.Payload, &ev) != nil {
		return dto.LedgerEvent{}, false
	}
	return ev, true
}

// withEvent tags a log line with the register and manager the entry is about.
func (e DLQEntry) withEvent(l *zerolog.Event) *zerolog.Event {
	if ev, ok := e.LedgerEvent(); ok {
		l = l.Str("cash_register_id", ev.CashRegisterID).Str("manager_id", ev.ManagerID)
	}
	return l
}

// SendToDLQ parks a failed job. Errors are logged, never returned: a job
// that cannot even be parked is already lost.
func SendToDLQ(ctx context.Context, rdb listPusher, queue string, jobType string, payload json.RawMessage, reason string, attempts int) {
	entry := DLQEntry{
		OriginalQueue: queue,
		JobType:       jobType,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: failed to marshal entry")
		return
	}

	dlqKey := DLQPrefix + queue
	if err := rdb.LPush(ctx, dlqKey, data).Err(); err != nil {
		log.Error().Err(err).Str("dlq_key", dlqKey).Msg("dlq: failed to push to DLQ")
		return
	}

	entry.withEvent(log.Warn()).
		Str("queue", queue).
		Str("job_type", jobType).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("dlq: ledger event parked")
}

// DLQLength returns the number of entries in a DLQ; the health endpoint
// reports it for the ledger-event queue.
func DLQLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+queue).Result()
}

type dlqStore interface {
	listPusher
	RPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

type ReplayResult struct {
	Replayed int `json:"replayed"`
	Kept     int `json:"kept"`
}

// ReplayDLQ moves up to limit parked jobs, oldest first, back onto queue with
// a fresh attempt budget. A non-positive limit replays everything parked when
// the call starts. Malformed entries cannot be routed and go back to the DLQ.
func ReplayDLQ(ctx context.Context, rdb dlqStore, queue string, limit int) (ReplayResult, error) {
	var res ReplayResult
	dlqKey := DLQPrefix + queue

	n, err := rdb.LLen(ctx, dlqKey).Result()
	if err != nil {
		return res, fmt.Errorf("dlq length: %w", err)
	}
	if limit <= 0 || int64(limit) > n {
		limit = int(n)
	}

	for i := 0; i < limit; i++ {
		raw, err := rdb.RPop(ctx, dlqKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("dlq pop: %w", err)
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			if _, ok := entry.LedgerEvent(); ok {
				job, _ := json.Marshal(Job{Type: entry.JobType, Payload: entry.Payload})
				if err := rdb.LPush(ctx, queue, job).Err(); err != nil {
					// Put it back where it was so nothing is lost.
					_ = rdb.LPush(ctx, dlqKey, raw).Err()
					return res, fmt.Errorf("requeue: %w", err)
				}
				entry.withEvent(log.Info()).Str("job_type", entry.JobType).Msg("dlq: ledger event replayed")
				res.Replayed++
				continue
			}
		}
		if err := rdb.LPush(ctx, dlqKey, raw).Err(); err != nil {
			return res, fmt.Errorf("dlq keep: %w", err)
		}
		res.Kept++
	}
	return res, nil
}
