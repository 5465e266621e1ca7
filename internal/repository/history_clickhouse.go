package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	applogger "FlowScope/pkg/logger"
)

const historyTable = "flowscope.history_points"

// HistorySchema creates the archive table. Rows are deduplicated on (coin, ts).
var HistorySchema = []string{
	`CREATE DATABASE IF NOT EXISTS flowscope`,
	`CREATE TABLE IF NOT EXISTS ` + historyTable + ` (
		coin        LowCardinality(String),
		ts          DateTime64(3, 'UTC'),
		price       Float64,
		vol_buy     Float64,
		vol_sell    Float64,
		freq_buy    Float64,
		freq_sell   Float64,
		high        Float64,
		low         Float64,
		liquidity   Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (coin, ts)
	TTL toDateTime(ts) + INTERVAL 30 DAY`,
}

// ClickHouseHistoryStore archives history points. Save only inserts points
// newer than the last one it wrote for the coin.
type ClickHouseHistoryStore struct {
	db      *sql.DB
	maxLoad int
	l       *applogger.Logger

	mu     sync.Mutex
	lastTS map[string]int64
}

var _ domrepo.HistoryPersister = (*ClickHouseHistoryStore)(nil)

func NewClickHouseHistoryStore(db *sql.DB, maxLoad int, l *applogger.Logger) *ClickHouseHistoryStore {
	if maxLoad <= 0 {
		maxLoad = 500
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseHistoryStore{db: db, maxLoad: maxLoad, l: l, lastTS: make(map[string]int64)}
}

// Load returns the newest maxLoad points in ascending order.
func (s *ClickHouseHistoryStore) Load(ctx context.Context, coin string) ([]models.HistoryPoint, error) {
	start := time.Now()
	const q = `
		SELECT ts, price, vol_buy, vol_sell, freq_buy, freq_sell, high, low, liquidity
		FROM ` + historyTable + ` FINAL
		WHERE coin = ?
		ORDER BY ts DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, coin, s.maxLoad)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryPoint, 0, s.maxLoad)
	for rows.Next() {
		var (
			p  models.HistoryPoint
			ts time.Time
		)
		if err := rows.Scan(&ts, &p.Price, &p.VolBuy2h, &p.VolSell2h, &p.FreqBuy2h, &p.FreqSell2h, &p.High, &p.Low, &p.Liquidity); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		p.TS = ts.UnixMilli()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > 0 {
		s.mu.Lock()
		if out[len(out)-1].TS > s.lastTS[coin] {
			s.lastTS[coin] = out[len(out)-1].TS
		}
		s.mu.Unlock()
	}
	s.l.Debug("clickhouse history load ok",
		applogger.Coin(coin),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseHistoryStore) Save(ctx context.Context, coin string, series []models.HistoryPoint) error {
	s.mu.Lock()
	last := s.lastTS[coin]
	s.mu.Unlock()

	fresh := make([]models.HistoryPoint, 0, len(series))
	for _, p := range series {
		if p.TS > last {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+historyTable+
		` (coin, ts, price, vol_buy, vol_sell, freq_buy, freq_sell, high, low, liquidity)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, p := range fresh {
		if _, err := stmt.ExecContext(ctx, coin, time.UnixMilli(p.TS).UTC(), p.Price, p.VolBuy2h, p.VolSell2h,
			p.FreqBuy2h, p.FreqSell2h, p.High, p.Low, p.Liquidity); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	if ts := fresh[len(fresh)-1].TS; ts > s.lastTS[coin] {
		s.lastTS[coin] = ts
	}
	s.mu.Unlock()
	return nil
}
