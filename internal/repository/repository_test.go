package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
	"FlowScope/pkg/cache"
	pkgkafka "FlowScope/pkg/kafka"
)

func points(ts ...int64) []models.HistoryPoint {
	out := make([]models.HistoryPoint, len(ts))
	for i, t := range ts {
		out[i] = models.HistoryPoint{TS: t, Price: float64(100 + i), High: 110, Low: 90}
	}
	return out
}

func TestCacheHistoryPersister(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryCache()
	p := NewCacheHistoryPersister(mem, time.Hour)

	got, err := p.Load(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, got, "miss is not an error")

	require.NoError(t, p.Save(ctx, "BTC", points(1, 2, 3)))
	ok, err := mem.Exists(ctx, "okx_calc_history_v1:BTC")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = p.Load(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, points(1, 2, 3), got)
}

type failingPersister struct{ calls int }

func (f *failingPersister) Load(context.Context, string) ([]models.HistoryPoint, error) {
	f.calls++
	return nil, errors.New("backend down")
}

func (f *failingPersister) Save(context.Context, string, []models.HistoryPoint) error {
	f.calls++
	return errors.New("backend down")
}

func TestBreakerPersisterTrips(t *testing.T) {
	ctx := context.Background()
	next := &failingPersister{}
	b := NewBreakerPersister(next, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		err := b.Save(ctx, "BTC", points(1))
		require.Error(t, err)
		assert.False(t, IsOpen(err))
	}
	_, err := b.Load(ctx, "BTC")
	assert.True(t, IsOpen(err))
	assert.Equal(t, 2, next.calls, "open breaker short-circuits")
	assert.Equal(t, "open", b.State())
}

type recordedKafka struct {
	topic string
	key   string
	value interface{}
	batch []pkgkafka.Message
}

type fakeProducer struct {
	sent   []recordedKafka
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.sent = append(f.sent, recordedKafka{topic: topic, key: string(key), value: value})
	return nil
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.sent = append(f.sent, recordedKafka{topic: topic, batch: msgs})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaFiringPublisher(t *testing.T) {
	ctx := context.Background()
	prod := &fakeProducer{}
	p := NewKafkaFiringPublisher(prod, "firings", "insights")

	require.NoError(t, p.PublishFirings(ctx, nil))
	assert.Empty(t, prod.sent)

	require.NoError(t, p.PublishFirings(ctx, []models.Firing{{ID: "f1", Coin: "BTC"}, {ID: "f2", Coin: "ETH"}}))
	require.NoError(t, p.PublishInsight(ctx, models.InsightEvent{Coin: "BTC", Messages: []string{"x"}}))
	require.Len(t, prod.sent, 2)
	assert.Equal(t, "firings", prod.sent[0].topic)
	require.Len(t, prod.sent[0].batch, 2)
	assert.Equal(t, []byte("ETH"), prod.sent[0].batch[1].Key)
	assert.Equal(t, "insights", prod.sent[1].topic)
	assert.Equal(t, "BTC", prod.sent[1].key)

	require.NoError(t, p.Close())
	assert.True(t, prod.closed)
}

type fakeQueue struct {
	types []string
	fail  bool
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, _ interface{}) error {
	if q.fail {
		return errors.New("redis down")
	}
	q.types = append(q.types, msgType)
	return nil
}

func TestQueueFiringPublisher(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	p := NewQueueFiringPublisher(q)
	require.NoError(t, p.PublishFirings(ctx, []models.Firing{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, p.PublishInsight(ctx, models.InsightEvent{Coin: "BTC"}))
	assert.Equal(t, []string{MsgTypeFiring, MsgTypeFiring, MsgTypeInsight}, q.types)

	q.fail = true
	err := p.PublishFirings(ctx, []models.Firing{{ID: "a"}, {ID: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue firing b")
}

func TestCacheRuleStore(t *testing.T) {
	ctx := context.Background()
	s := NewCacheRuleStore(cache.NewMemoryCache())
	got, err := s.LoadRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	rules := []models.AlertRule{{ID: "r1", Metric: "riskScore", Comparator: models.CompGreater, Threshold: 80, Enabled: true}}
	require.NoError(t, s.SaveRules(ctx, rules))
	got, err = s.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules, got)
}

func newSQLStore(t *testing.T) (*SQLRuleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLRuleStore(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLRuleStoreLoad(t *testing.T) {
	s, mock := newSQLStore(t)
	cols := []string{"id", "position", "name", "metric", "comparator", "threshold", "severity", "enabled", "message"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, position, name")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", 0, "Risk", "riskScore", ">", 80.0, "danger", true, "risky").
			AddRow("r2", 1, "", "vol_ratio_2h", "<", 30.0, "warning", false, ""))

	rules, err := s.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, models.AlertRule{
		ID: "r1", Name: "Risk", Metric: "riskScore", Comparator: models.CompGreater,
		Threshold: 80, Severity: models.SeverityDanger, Enabled: true, Message: "risky",
	}, rules[0])
	assert.False(t, rules[1].Enabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRuleStoreSaveReplaces(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM alert_rules")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alert_rules")).
		WithArgs("r1", 0, "Risk", "riskScore", ">", 80.0, "danger", true, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SaveRules(context.Background(), []models.AlertRule{
		{ID: "r1", Name: "Risk", Metric: "riskScore", Comparator: models.CompGreater, Threshold: 80, Severity: models.SeverityDanger, Enabled: true},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRuleStoreSaveRollsBack(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM alert_rules")).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := s.SaveRules(context.Background(), nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseHistoryStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewClickHouseHistoryStore(db, 10, nil)
	ctx := context.Background()

	cols := []string{"ts", "price", "vol_buy", "vol_sell", "freq_buy", "freq_sell", "high", "low", "liquidity"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM flowscope.history_points FINAL")).
		WithArgs("BTC", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(time.UnixMilli(2000), 101.0, 5.0, 4.0, 3.0, 2.0, 110.0, 90.0, 1.0).
			AddRow(time.UnixMilli(1000), 100.0, 5.0, 4.0, 3.0, 2.0, 110.0, 90.0, 1.0))

	got, err := s.Load(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].TS, "ascending")
	assert.Equal(t, 101.0, got[1].Price)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO flowscope.history_points"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO flowscope.history_points")).
		WithArgs("BTC", time.UnixMilli(3000).UTC(), 102.0, 0.0, 0.0, 0.0, 0.0, 110.0, 90.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	series := []models.HistoryPoint{
		{TS: 1000, Price: 100},
		{TS: 2000, Price: 101},
		{TS: 3000, Price: 102, High: 110, Low: 90},
	}
	require.NoError(t, s.Save(ctx, "BTC", series))
	require.NoError(t, s.Save(ctx, "BTC", series), "nothing new, no round trip")
	require.NoError(t, mock.ExpectationsWereMet())
}
