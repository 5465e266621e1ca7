package repository

import (
	"context"

	"FlowScope/internal/domain/models"
)

// SnapshotStream delivers raw snapshot payloads from a push feed.
type SnapshotStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan []byte, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// HistoryPersister loads and saves an asset's bounded history as an opaque series.
type HistoryPersister interface {
	Load(ctx context.Context, coin string) ([]models.HistoryPoint, error)
	Save(ctx context.Context, coin string, series []models.HistoryPoint) error
}

// RuleStore persists user-managed alert rules.
type RuleStore interface {
	LoadRules(ctx context.Context) ([]models.AlertRule, error)
	SaveRules(ctx context.Context, rules []models.AlertRule) error
}

// FiringPublisher hands firings and insight events to the alerting collaborator.
type FiringPublisher interface {
	PublishFirings(ctx context.Context, firings []models.Firing) error
	PublishInsight(ctx context.Context, ev models.InsightEvent) error
	Close() error
}

type Metrics interface {
	RecordProcessed(source, coin string)
	RecordError(kind string)
	RecordLastPrice(coin string, price float64)
	RecordRiskScore(coin string, score float64)
	RecordFiring(ruleID string, severity string)
	RecordLatency(op string, seconds float64)
}
