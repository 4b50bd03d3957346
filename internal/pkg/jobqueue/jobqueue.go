package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	redisc "github.com/shiftsight/core/internal/pkg/redis"
	"go.uber.org/zap"
)

// Message is one unit of work travelling through the queue.
type Message struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Options tune delivery behaviour. Delivery is at-least-once: a consumer
// crash between pop and completion redelivers on the next attempt, so
// handlers must be idempotent.
type Options struct {
	MaxAttempts int           // total tries before dead-lettering
	Backoff     time.Duration // exponential backoff base
}

// Handler processes one message payload. A non-nil error schedules a retry.
type Handler func(ctx context.Context, payload json.RawMessage) error

const (
	keyReadySuffix      = ""
	keyProcessingSuffix = ":processing"
	keyDelayedSuffix    = ":delayed"
	keyDeadSuffix       = ":dead"
	popTimeout          = 2 * time.Second
	pumpInterval        = time.Second
)

// Queue is a Redis-list-backed work queue with delayed retries.
type Queue struct {
	rc   *redisc.Client
	name string
	opts Options
	log  *zap.Logger
}

func New(rc *redisc.Client, name string, opts Options, log *zap.Logger) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Queue{rc: rc, name: "ss:queue:" + name, opts: opts, log: log}
}

func (q *Queue) readyKey() string      { return q.name + keyReadySuffix }
func (q *Queue) processingKey() string { return q.name + keyProcessingSuffix }
func (q *Queue) delayedKey() string    { return q.name + keyDelayedSuffix }
func (q *Queue) deadKey() string       { return q.name + keyDeadSuffix }

// Publish enqueues a payload for asynchronous pickup.
func (q *Queue) Publish(ctx context.Context, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	msg := Message{
		ID:        uuid.New().String(),
		Payload:   raw,
		Attempt:   1,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return msg.ID, q.rc.Raw().LPush(ctx, q.readyKey(), data).Err()
}

// Consume blocks, delivering messages to handler one at a time until ctx is
// cancelled. One Consume loop per queue keeps job processing single-flight;
// scaling out is safe because handlers are idempotent.
//
// Each pop moves the message onto a processing list so a crash mid-handler
// leaves it visible; the message is acked off that list only after the
// handler returns, and messages stranded by a previous crash are swept back
// onto the ready list on startup.
func (q *Queue) Consume(ctx context.Context, handler Handler) {
	q.recoverProcessing(ctx)
	go q.pumpDelayed(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		data, err := q.rc.Raw().BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.log.Warn("queue pop failed", zap.String("queue", q.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			q.log.Error("queue message corrupt, dropping", zap.String("queue", q.name), zap.Error(err))
			q.ack(ctx, data)
			continue
		}

		if err := handler(ctx, msg.Payload); err != nil {
			q.retry(ctx, msg, err)
		}
		// Retries travel through the delayed zset as a new attempt, so the
		// original delivery is acked regardless of the handler outcome.
		q.ack(ctx, data)
	}
}

// ack removes a delivered message from the processing list.
func (q *Queue) ack(ctx context.Context, data string) {
	if err := q.rc.Raw().LRem(ctx, q.processingKey(), 1, data).Err(); err != nil {
		q.log.Warn("queue ack failed", zap.String("queue", q.name), zap.Error(err))
	}
}

// recoverProcessing requeues messages a previous consumer popped but never
// acked. Runs before the pop loop, so with one consumer per queue the
// processing list holds only stranded entries.
func (q *Queue) recoverProcessing(ctx context.Context) {
	for {
		data, err := q.rc.Raw().LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "RIGHT").Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.log.Warn("queue recovery failed", zap.String("queue", q.name), zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err == nil {
			q.log.Info("requeued stranded message", zap.String("queue", q.name), zap.String("id", msg.ID))
		}
	}
}

func (q *Queue) retry(ctx context.Context, msg Message, cause error) {
	if msg.Attempt >= q.opts.MaxAttempts {
		q.log.Error("queue message exhausted retries, dead-lettering",
			zap.String("queue", q.name),
			zap.String("id", msg.ID),
			zap.Int("attempts", msg.Attempt),
			zap.Error(cause))
		if data, err := json.Marshal(msg); err == nil {
			q.rc.Raw().LPush(ctx, q.deadKey(), data)
		}
		return
	}

	delay := RetryDelay(q.opts.Backoff, msg.Attempt)
	msg.Attempt++
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	q.log.Warn("queue message failed, scheduling retry",
		zap.String("queue", q.name),
		zap.String("id", msg.ID),
		zap.Int("next_attempt", msg.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	q.rc.Raw().ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	})
}

// pumpDelayed moves due retry messages back onto the ready list.
func (q *Queue) pumpDelayed(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UnixMilli()
		members, err := q.rc.Raw().ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now, 10),
		}).Result()
		if err != nil || len(members) == 0 {
			continue
		}
		for _, m := range members {
			pipe := q.rc.Raw().TxPipeline()
			pipe.ZRem(ctx, q.delayedKey(), m)
			pipe.LPush(ctx, q.readyKey(), m)
			if _, err := pipe.Exec(ctx); err != nil {
				q.log.Warn("queue delayed pump failed", zap.String("queue", q.name), zap.Error(err))
			}
		}
	}
}

// RetryDelay is the exponential backoff before the given attempt is retried:
// base, 2*base, 4*base, ...
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
