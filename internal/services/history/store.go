// Package history keeps the bounded per-asset observation series and
// throttles its persistence.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/repository"
	applogger "FlowScope/pkg/logger"
)

const (
	DefaultMaxLen   = 500
	DefaultThrottle = 5 * time.Second
	defaultSaveWait = 3 * time.Second
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	series   map[string][]models.HistoryPoint
	lastSave map[string]time.Time
	dirty    map[string]bool

	persister repository.HistoryPersister
	enabled   bool
	maxLen    int
	throttle  time.Duration
	saveWait  time.Duration
	now       func() time.Time
	logger    *applogger.Logger
	wg        sync.WaitGroup
}

type Option func(*Store)

// WithPersister enables persistence through p. A nil p keeps it disabled.
func WithPersister(p repository.HistoryPersister) Option {
	return func(s *Store) {
		s.persister = p
		s.enabled = p != nil
	}
}

// WithPersistenceEnabled toggles persistence without dropping the persister.
func WithPersistenceEnabled(on bool) Option {
	return func(s *Store) { s.enabled = on }
}

func WithMaxLen(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

func WithThrottle(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.throttle = d
		}
	}
}

// WithSaveTimeout bounds each background save.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.saveWait = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *applogger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(opts ...Option) *Store {
	s := &Store{
		series:   make(map[string][]models.HistoryPoint),
		lastSave: make(map[string]time.Time),
		dirty:    make(map[string]bool),
		maxLen:   DefaultMaxLen,
		throttle: DefaultThrottle,
		saveWait: defaultSaveWait,
		now:      time.Now,
		logger:   applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persister == nil {
		s.enabled = false
	}
	return s
}

// Append adds p to the asset's series, evicting the oldest points beyond the bound.
func (s *Store) Append(coin string, p models.HistoryPoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := append(s.series[coin], p)
	if over := len(cur) - s.maxLen; over > 0 {
		trimmed := make([]models.HistoryPoint, s.maxLen)
		copy(trimmed, cur[over:])
		cur = trimmed
	}
	s.series[coin] = cur
	s.dirty[coin] = true
	return len(cur)
}

// Series returns an insertion-ordered copy.
func (s *Store) Series(coin string) []models.HistoryPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryPoint(nil), s.series[coin]...)
}

// Tail returns a copy of the last n points.
func (s *Store) Tail(coin string, n int) []models.HistoryPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.series[coin]
	if n <= 0 || n >= len(cur) {
		return append([]models.HistoryPoint(nil), cur...)
	}
	return append([]models.HistoryPoint(nil), cur[len(cur)-n:]...)
}

func (s *Store) Len(coin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series[coin])
}

func (s *Store) Coins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.series))
	for c := range s.series {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Enabled() bool { return s.enabled }

// Load restores the asset's persisted series. In-memory points seen since start
// are kept after the restored ones.
func (s *Store) Load(ctx context.Context, coin string) ([]models.HistoryPoint, error) {
	if !s.enabled {
		return s.Series(coin), nil
	}
	loaded, err := s.persister.Load(ctx, coin)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", coin, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := append(append([]models.HistoryPoint(nil), loaded...), s.series[coin]...)
	if over := len(merged) - s.maxLen; over > 0 {
		merged = merged[over:]
	}
	s.series[coin] = merged
	return append([]models.HistoryPoint(nil), merged...), nil
}

// claim reserves a save slot for coin and returns the series to persist.
func (s *Store) claim(coin string, force bool) ([]models.HistoryPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty[coin] {
		return nil, false
	}
	now := s.now()
	if last, ok := s.lastSave[coin]; ok && !force && now.Sub(last) < s.throttle {
		return nil, false
	}
	s.lastSave[coin] = now
	s.dirty[coin] = false
	return append([]models.HistoryPoint(nil), s.series[coin]...), true
}

func (s *Store) release(coin string) {
	s.mu.Lock()
	s.dirty[coin] = true
	s.mu.Unlock()
}

// Save persists the asset's full series unless it was saved within the throttle
// window. It reports whether a write happened.
func (s *Store) Save(ctx context.Context, coin string) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	series, ok := s.claim(coin, false)
	if !ok {
		return false, nil
	}
	if err := s.persister.Save(ctx, coin, series); err != nil {
		s.release(coin)
		return false, fmt.Errorf("save history %s: %w", coin, err)
	}
	return true, nil
}

// SaveAsync does the throttle check inline and the write in the background.
func (s *Store) SaveAsync(coin string) {
	if !s.enabled {
		return
	}
	series, ok := s.claim(coin, false)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.saveWait)
		defer cancel()
		if err := s.persister.Save(ctx, coin, series); err != nil {
			s.release(coin)
			s.logger.Warn("history save failed", applogger.Coin(coin), applogger.Error(err))
		}
	}()
}

// Flush waits for background saves and then persists every dirty asset, ignoring the throttle.
func (s *Store) Flush(ctx context.Context) error {
	s.wg.Wait()
	if !s.enabled {
		return nil
	}
	var firstErr error
	for _, coin := range s.Coins() {
		series, ok := s.claim(coin, true)
		if !ok {
			continue
		}
		if err := s.persister.Save(ctx, coin, series); err != nil {
			s.release(coin)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush history %s: %w", coin, err)
			}
		}
	}
	return firstErr
}
