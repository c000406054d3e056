package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueLedgerEvents = "jobs:ledger_events"

	// maxAttempts counts the first try; a job failing this many times is
	// moved to the dead letter queue.
	maxAttempts = 3
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job payload. A returned error schedules a retry.
type Handler func(ctx context.Context, payload json.RawMessage) error

// listPusher is the slice of the Redis client the pool writes through.
type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type listPopper interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb listPusher
	cb  *infra.CircuitBreaker
}

func NewDispatcher(rdb *redis.Client, cb *infra.CircuitBreaker) *Dispatcher {
	return &Dispatcher{rdb: rdb, cb: cb}
}

// PublishLedgerEvent queues ev for the ledger-event handlers. It fails fast
// with infra.ErrCircuitOpen while Redis is known to be down.
func (d *Dispatcher) PublishLedgerEvent(ctx context.Context, ev dto.LedgerEvent) error {
	return d.cb.Execute(func() error {
		return enqueue(ctx, d.rdb, QueueLedgerEvents, Job{Type: ev.Type}, ev)
	})
}

func enqueue(ctx context.Context, rdb listPusher, queue string, job Job, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job.Payload = data
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes queues and routes each job to the handler registered for
// its type.
type Pool struct {
	in       listPopper
	out      listPusher
	handlers map[string]Handler
	queues   []string
}

func NewPool(rdb *redis.Client, handlers map[string]Handler) *Pool {
	return &Pool{
		in:       rdb,
		out:      rdb,
		handlers: handlers,
		queues:   []string{QueueLedgerEvents},
	}
}

// Start launches numWorkers goroutines.
// Each goroutine blocks on BRPOP, zero CPU when idle.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go p.run(ctx, i)
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func (p *Pool) run(ctx context.Context, id int) {
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to 5s then loops to check ctx
			result, err := p.in.BRPop(ctx, 5*time.Second, p.queues...).Result()
			if err != nil {
				if !isIdle(ctx, err) {
					log.Warn().Err(err).Int("worker", id).Dur("backoff", backoff).Msg("dequeue failed")
					sleepCtx(ctx, backoff)
					backoff = nextBackoff(backoff)
				}
				continue
			}
			backoff = minBackoff
			if len(result) < 2 {
				continue
			}
			p.processJob(ctx, result[0], result[1])
		}
	}
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// isIdle reports whether a BRPOP error is just an empty poll or shutdown.
func isIdle(ctx context.Context, err error) bool {
	return errors.Is(err, redis.Nil) || ctx.Err() != nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Pool) processJob(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		quoted, _ := json.Marshal(raw)
		SendToDLQ(ctx, p.out, queue, "", quoted, "malformed job: "+err.Error(), 0)
		return
	}

	handler, ok := p.handlers[job.Type]
	if !ok {
		SendToDLQ(ctx, p.out, queue, job.Type, job.Payload, "no handler registered", job.Attempts)
		return
	}

	job.Attempts++
	err := runHandler(ctx, handler, job.Payload)
	if err == nil {
		log.Debug().Str("type", job.Type).Str("queue", queue).Msg("job processed")
		return
	}

	if job.Attempts >= maxAttempts {
		SendToDLQ(ctx, p.out, queue, job.Type, job.Payload, err.Error(), job.Attempts)
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempt", job.Attempts).Msg("job failed, requeueing")
	encoded, mErr := json.Marshal(job)
	if mErr == nil {
		mErr = p.out.LPush(ctx, queue, encoded).Err()
	}
	if mErr != nil {
		log.Error().Err(mErr).Str("type", job.Type).Msg("requeue failed")
		SendToDLQ(ctx, p.out, queue, job.Type, job.Payload, "requeue failed: "+mErr.Error(), job.Attempts)
	}
}

// runHandler keeps a panicking handler from killing its worker goroutine.
func runHandler(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
