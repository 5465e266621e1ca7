package usecase

import (
	"context"
	"errors"

	"FlowScope/internal/domain/models"
	drepo "FlowScope/internal/domain/repository"
	"FlowScope/internal/services/feed"
	pkgkafka "FlowScope/pkg/kafka"
)

// Ingester is what the bus and feed paths need from a Session.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (*models.AnalyticsRecord, error)
}

// SnapshotHandler consumes snapshot messages from Kafka. Malformed payloads
// are permanent failures so they go straight to the DLQ.
type SnapshotHandler struct {
	topic   string
	session Ingester
	metrics drepo.Metrics
}

var _ pkgkafka.MessageHandler = (*SnapshotHandler)(nil)

func NewSnapshotHandler(topic string, session Ingester, metrics drepo.Metrics) *SnapshotHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &SnapshotHandler{topic: topic, session: session, metrics: metrics}
}

func (h *SnapshotHandler) Topic() string { return h.topic }

func (h *SnapshotHandler) Handle(ctx context.Context, b []byte) error {
	if _, err := h.session.Ingest(ctx, b); err != nil {
		if errors.Is(err, feed.ErrMalformed) || errors.Is(err, feed.ErrMissingCoin) {
			h.metrics.RecordError("kafka_malformed")
			return pkgkafka.Permanent(err)
		}
		return err
	}
	return nil
}
