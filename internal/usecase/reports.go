package usecase

import (
	"fmt"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/services/recommend"
	"FlowScope/internal/services/report"
)

// Backtest replays the asset's logged recommendations against its history.
func (s *Session) Backtest(coin string) (models.BacktestReport, error) {
	if _, ok := s.Snapshot(coin); !ok {
		return models.BacktestReport{}, ErrUnknownCoin
	}
	return report.Backtest(coin, s.RecommendationLog(coin), s.history.Series(coin), nil), nil
}

func (s *Session) RiskReport(coin string, lookback int) (models.RiskReport, error) {
	snap, ok := s.Snapshot(coin)
	if !ok {
		return models.RiskReport{}, ErrUnknownCoin
	}
	rec, _ := s.Analytics(coin)
	r, err := report.Risk(report.RiskInput{
		Coin:          coin,
		History:       s.history.Series(coin),
		Analytics:     rec,
		PricePosition: recommend.SnapshotPricePosition(snap),
		Lookback:      lookback,
	})
	if err != nil {
		return models.RiskReport{}, fmt.Errorf("risk report %s: %w", coin, err)
	}
	return r, nil
}

// SignalLab breaks down the current recommendation for tf without touching the cooldown state.
func (s *Session) SignalLab(coin string, tf models.Timeframe) (models.SignalLab, error) {
	rec, err := s.Recommendation(coin, tf, false, false)
	if err != nil {
		return models.SignalLab{}, err
	}
	return report.SignalLab(coin, rec), nil
}
