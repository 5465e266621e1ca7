package service

import "FlowScope/internal/domain/models"

// AnalyticsInput is everything the analytics engine needs for one snapshot.
type AnalyticsInput struct {
	Snapshot *models.Snapshot
	// History is the asset's retained series before this snapshot.
	History []models.HistoryPoint
	// Prior is the previous record for the asset, nil on first sight.
	Prior *models.AnalyticsRecord
	// Now is the observation time in epoch millis.
	Now int64
}

// AnalyticsResult carries the record plus the point the caller must append to its history.
type AnalyticsResult struct {
	Record *models.AnalyticsRecord
	Point  models.HistoryPoint
}

// Analyzer turns a snapshot and its history into derived metrics.
type Analyzer interface {
	Compute(in AnalyticsInput) AnalyticsResult
}

// RecommendInput is the pure input of a recommendation.
type RecommendInput struct {
	Snapshot      *models.Snapshot
	Analytics     *models.AnalyticsRecord
	PricePosition float64
	Timeframe     models.Timeframe
	UseATR        bool
}

// Recommender scores a snapshot into BUY/SELL/HOLD.
type Recommender interface {
	Recommend(in RecommendInput) models.Recommendation
}

// CooldownTracker remembers the last firing time per key.
type CooldownTracker interface {
	LastFired(key string) (int64, bool)
	MarkFired(key string, ts int64)
}

// RuleEvaluator decides which alert rules fire for one snapshot.
type RuleEvaluator interface {
	Evaluate(snap *models.Snapshot, a *models.AnalyticsRecord, rules []models.AlertRule, cd CooldownTracker, now int64) []models.Firing
}
