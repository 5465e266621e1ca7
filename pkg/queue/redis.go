package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FlowScope/pkg/logger"
)

// RedisQueue publishes with LPUSH and consumes with BRPOP. Failed messages are
// parked in a sorted set until their retry time, then in a dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	cfg       Config
	client    *redis.Client
	keyPrefix string
	newID     func() string
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]Job
	wg   sync.WaitGroup
}

var _ Publisher = (*RedisQueue)(nil)

type Option func(*RedisQueue)

func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(r *RedisQueue) { r.now = now }
}

func WithIDFunc(f func() string) Option {
	return func(r *RedisQueue) { r.newID = f }
}

func NewRedisQueue(lgr *logger.Logger, client *redis.Client, cfg Config, opts ...Option) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	q := &RedisQueue{
		logger:    lgr.With(logger.String("component", "redis_queue")),
		cfg:       cfg.withDefaults(),
		client:    client,
		keyPrefix: "flowscope:queue",
		newID:     uuid.NewString,
		now:       time.Now,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

// PublishMessage enqueues payload under msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	msg := Message{ID: r.newID(), Type: msgType, Payload: raw, Timestamp: r.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled. It blocks.
func (r *RedisQueue) Run(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.wg.Add(1)
	go r.retryLoop(ctx)
	r.logger.Info("redis queue consuming", logger.Int("workers", r.cfg.Workers), logger.String("key", r.queueKey()))
	<-ctx.Done()
	r.wg.Wait()
	return nil
}

func (r *RedisQueue) worker(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		if _, err := r.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("queue pop failed", logger.Error(err))
			sleepCtx(ctx, time.Second)
		}
	}
}

// ProcessNext pops and handles at most one message. It reports whether one was handled.
func (r *RedisQueue) ProcessNext(ctx context.Context) (bool, error) {
	res, err := r.client.BRPop(ctx, r.cfg.PopTimeout, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, fmt.Errorf("queue: brpop: %w", err)
	}
	if len(res) < 2 {
		return false, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.logger.Error("drop undecodable message", logger.Error(err))
		return false, nil
	}
	r.handle(ctx, msg)
	return true, nil
}

func (r *RedisQueue) handle(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(ctx, msg)
		return
	}
	err := job.Handle(ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Error("queue job failed",
		logger.String("type", msg.Type),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts >= r.cfg.RetryLimit {
		r.deadLetter(ctx, msg)
		return
	}
	msg.Attempts++
	r.scheduleRetry(ctx, msg, r.now().Add(r.cfg.RetryDelay))
}

func (r *RedisQueue) scheduleRetry(ctx context.Context, msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.LPush(ctx, r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("dead-letter push", logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.PromoteRetries(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("promote retries", logger.Error(err))
			}
		}
	}
}

// PromoteRetries moves due retries back onto the main list.
func (r *RedisQueue) PromoteRetries(ctx context.Context) error {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: fetch retries: %w", err)
	}
	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), member)
		pipe.LPush(ctx, r.queueKey(), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("queue: promote retry: %w", err)
		}
	}
	return nil
}

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
