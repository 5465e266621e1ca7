package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook runs around every handler call. An error from BeforeHandle
// skips the handler and is treated as permanent.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookFuncs adapts plain functions. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (_ context.Context, _ kafka.Message, _ []byte, err error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After == nil {
		return
	}
	defer func() { _ = recover() }()
	h.After(ctx, topic, km, data, err)
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err == nil {
		return
	}
	defer func() { _ = recover() }()
	h.Err(ctx, topic, km, data, err)
}

type ctxKey string

const (
	ctxStartTime ctxKey = "kafka_hook_start_time"
	ctxKeyCoin   ctxKey = "kafka_hook_key"
)

// StartTime reads the time TimingHook stored, if any.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxStartTime).(time.Time)
	return t, ok
}

// MessageKey reads the message key TimingHook stored, if any.
func MessageKey(ctx context.Context) string {
	k, _ := ctx.Value(ctxKeyCoin).(string)
	return k
}

// TimingHook stamps the start time and message key into the context and
// reports each handler call to observe.
func TimingHook(observe func(topic, key string, d time.Duration, err error)) ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = context.WithValue(ctx, ctxStartTime, time.Now())
			ctx = context.WithValue(ctx, ctxKeyCoin, string(km.Key))
			return ctx, km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			if observe == nil {
				return
			}
			if start, ok := StartTime(ctx); ok {
				observe(topic, string(km.Key), time.Since(start), err)
			}
		},
	}
}
