package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	"FlowScope/pkg/cache"
)

const rulesKey = "alert_rules_v1"

// CacheRuleStore keeps the whole rule list under one cache key.
type CacheRuleStore struct {
	cache cache.Service
}

var _ domrepo.RuleStore = (*CacheRuleStore)(nil)

func NewCacheRuleStore(c cache.Service) *CacheRuleStore { return &CacheRuleStore{cache: c} }

func (s *CacheRuleStore) LoadRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.cache.Get(ctx, rulesKey, &rules); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

func (s *CacheRuleStore) SaveRules(ctx context.Context, rules []models.AlertRule) error {
	if err := s.cache.Set(ctx, rulesKey, rules, 0); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

// RulesSchema is the Postgres DDL for SQLRuleStore.
const RulesSchema = `CREATE TABLE IF NOT EXISTS alert_rules (
	id         TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	metric     TEXT NOT NULL,
	comparator TEXT NOT NULL,
	threshold  DOUBLE PRECISION NOT NULL,
	severity   TEXT NOT NULL DEFAULT 'warning',
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	message    TEXT NOT NULL DEFAULT ''
)`

type ruleRow struct {
	ID         string  `db:"id"`
	Position   int     `db:"position"`
	Name       string  `db:"name"`
	Metric     string  `db:"metric"`
	Comparator string  `db:"comparator"`
	Threshold  float64 `db:"threshold"`
	Severity   string  `db:"severity"`
	Enabled    bool    `db:"enabled"`
	Message    string  `db:"message"`
}

// SQLRuleStore persists rules in Postgres. SaveRules replaces the whole set.
type SQLRuleStore struct {
	db *sqlx.DB
}

var _ domrepo.RuleStore = (*SQLRuleStore)(nil)

func NewSQLRuleStore(db *sqlx.DB) *SQLRuleStore { return &SQLRuleStore{db: db} }

// OpenSQLRuleStore connects with lib/pq.
func OpenSQLRuleStore(ctx context.Context, dsn string, maxOpen int) (*SQLRuleStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	return NewSQLRuleStore(db), nil
}

func (s *SQLRuleStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, RulesSchema); err != nil {
		return fmt.Errorf("init rules schema: %w", err)
	}
	return nil
}

func (s *SQLRuleStore) LoadRules(ctx context.Context) ([]models.AlertRule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, position, name, metric, comparator, threshold, severity, enabled, message FROM alert_rules ORDER BY position`); err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}
	out := make([]models.AlertRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.AlertRule{
			ID:         r.ID,
			Name:       r.Name,
			Metric:     r.Metric,
			Comparator: models.Comparator(r.Comparator),
			Threshold:  r.Threshold,
			Severity:   models.Severity(r.Severity),
			Enabled:    r.Enabled,
			Message:    r.Message,
		})
	}
	return out, nil
}

func (s *SQLRuleStore) SaveRules(ctx context.Context, rules []models.AlertRule) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for i, r := range rules {
		row := ruleRow{
			ID: r.ID, Position: i, Name: r.Name, Metric: r.Metric, Comparator: string(r.Comparator),
			Threshold: r.Threshold, Severity: string(r.Severity), Enabled: r.Enabled, Message: r.Message,
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO alert_rules
			(id, position, name, metric, comparator, threshold, severity, enabled, message)
			VALUES (:id, :position, :name, :metric, :comparator, :threshold, :severity, :enabled, :message)`, row); err != nil {
			return fmt.Errorf("insert rule %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLRuleStore) Close() error { return s.db.Close() }
