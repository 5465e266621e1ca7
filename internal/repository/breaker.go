package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	applogger "FlowScope/pkg/logger"
)

// BreakerSettings trips after MaxFailures consecutive errors and probes again after OpenTimeout.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
}

// BreakerPersister fails fast while the wrapped backend is unhealthy.
type BreakerPersister struct {
	next domrepo.HistoryPersister
	cb   *gobreaker.CircuitBreaker
}

var _ domrepo.HistoryPersister = (*BreakerPersister)(nil)

func NewBreakerPersister(next domrepo.HistoryPersister, s BreakerSettings, l *applogger.Logger) *BreakerPersister {
	if l == nil {
		l = applogger.Nop()
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Name == "" {
		s.Name = "history"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("persistence breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
	return &BreakerPersister{next: next, cb: cb}
}

// State reports the breaker state, for health output.
func (b *BreakerPersister) State() string { return b.cb.State().String() }

func (b *BreakerPersister) Load(ctx context.Context, coin string) ([]models.HistoryPoint, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Load(ctx, coin)
	})
	if err != nil {
		return nil, err
	}
	series, _ := out.([]models.HistoryPoint)
	return series, nil
}

func (b *BreakerPersister) Save(ctx context.Context, coin string, series []models.HistoryPoint) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Save(ctx, coin, series)
	})
	return err
}

// IsOpen reports whether err came from a tripped breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
