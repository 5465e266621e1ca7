package repository

import (
	"context"
	"errors"
	"fmt"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	pkgkafka "FlowScope/pkg/kafka"
	"FlowScope/pkg/queue"
)

// Queue message types for the Redis backend.
const (
	MsgTypeFiring  = "alert_firing"
	MsgTypeInsight = "insight_event"
)

type keyedPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaFiringPublisher keys every message by coin so consumers see one coin in order.
type KafkaFiringPublisher struct {
	producer     keyedPublisher
	firingTopic  string
	insightTopic string
}

var _ domrepo.FiringPublisher = (*KafkaFiringPublisher)(nil)

func NewKafkaFiringPublisher(producer keyedPublisher, firingTopic, insightTopic string) *KafkaFiringPublisher {
	return &KafkaFiringPublisher{producer: producer, firingTopic: firingTopic, insightTopic: insightTopic}
}

func (p *KafkaFiringPublisher) PublishFirings(ctx context.Context, firings []models.Firing) error {
	if len(firings) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(firings))
	for i, f := range firings {
		msgs[i] = pkgkafka.Message{Key: []byte(f.Coin), Value: f}
	}
	if err := p.producer.PublishBatch(ctx, p.firingTopic, msgs); err != nil {
		return fmt.Errorf("publish firings: %w", err)
	}
	return nil
}

func (p *KafkaFiringPublisher) PublishInsight(ctx context.Context, ev models.InsightEvent) error {
	if p.insightTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, p.insightTopic, []byte(ev.Coin), ev); err != nil {
		return fmt.Errorf("publish insight: %w", err)
	}
	return nil
}

func (p *KafkaFiringPublisher) Close() error { return p.producer.Close() }

// QueueFiringPublisher pushes firings onto the Redis job queue.
type QueueFiringPublisher struct {
	q queue.Publisher
}

var _ domrepo.FiringPublisher = (*QueueFiringPublisher)(nil)

func NewQueueFiringPublisher(q queue.Publisher) *QueueFiringPublisher {
	return &QueueFiringPublisher{q: q}
}

func (p *QueueFiringPublisher) PublishFirings(ctx context.Context, firings []models.Firing) error {
	var errs []error
	for _, f := range firings {
		if err := p.q.PublishMessage(ctx, MsgTypeFiring, f); err != nil {
			errs = append(errs, fmt.Errorf("enqueue firing %s: %w", f.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *QueueFiringPublisher) PublishInsight(ctx context.Context, ev models.InsightEvent) error {
	return p.q.PublishMessage(ctx, MsgTypeInsight, ev)
}

func (p *QueueFiringPublisher) Close() error { return nil }

// NopFiringPublisher drops everything.
type NopFiringPublisher struct{}

func (NopFiringPublisher) PublishFirings(context.Context, []models.Firing) error    { return nil }
func (NopFiringPublisher) PublishInsight(context.Context, models.InsightEvent) error { return nil }
func (NopFiringPublisher) Close() error                                             { return nil }
