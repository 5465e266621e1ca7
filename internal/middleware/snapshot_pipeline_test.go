package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/services/feed"
)

type recordingIngestor struct {
	mu    sync.Mutex
	coins []string
	block chan struct{}
}

func (r *recordingIngestor) IngestSnapshot(_ context.Context, s *models.Snapshot) (*models.AnalyticsRecord, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.coins = append(r.coins, s.Coin)
	r.mu.Unlock()
	return &models.AnalyticsRecord{}, nil
}

func (r *recordingIngestor) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.coins...)
}

type errCounter struct {
	mu   sync.Mutex
	kind map[string]int
}

func (e *errCounter) RecordProcessed(string, string)  {}
func (e *errCounter) RecordLastPrice(string, float64) {}
func (e *errCounter) RecordRiskScore(string, float64) {}
func (e *errCounter) RecordFiring(string, string)     {}
func (e *errCounter) RecordLatency(string, float64)   {}
func (e *errCounter) RecordError(kind string) {
	e.mu.Lock()
	if e.kind == nil {
		e.kind = map[string]int{}
	}
	e.kind[kind]++
	e.mu.Unlock()
}

func (e *errCounter) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind[kind]
}

func TestPipelineValidatesAndThrottles(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ing := &recordingIngestor{}
	m := &errCounter{}
	p := NewSnapshotPipeline(ing, m, WithMaxRPS(2), WithPipelineClock(func() time.Time { return now }))
	ctx := context.Background()

	err := p.Process(ctx, []byte(`{"last": 1}`))
	assert.True(t, errors.Is(err, feed.ErrMissingCoin))
	assert.Error(t, p.Process(ctx, []byte(`not json`)))
	assert.Equal(t, 2, m.count("pipeline_validate"))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, []byte(`{"coin":"BTC","last":100}`)))
	}
	require.NoError(t, p.Process(ctx, []byte(`{"coin":"ETH","last":5}`)))
	assert.Equal(t, []string{"BTC", "BTC", "ETH"}, ing.seen())
	assert.Equal(t, 1, m.count("pipeline_throttle"))

	now = now.Add(time.Second)
	require.NoError(t, p.Process(ctx, []byte(`{"coin":"BTC","last":101}`)))
	assert.Len(t, ing.seen(), 4)
}

func TestPipelineTransformDrops(t *testing.T) {
	ing := &recordingIngestor{}
	m := &errCounter{}
	p := NewSnapshotPipeline(ing, m, WithMaxRPS(0), WithTransform(func(s *models.Snapshot) *models.Snapshot {
		if s.Coin == "SPAM" {
			return nil
		}
		return s
	}))
	require.NoError(t, p.Process(context.Background(), []byte(`{"coin":"SPAM"}`)))
	require.NoError(t, p.Process(context.Background(), []byte(`{"coin":"BTC"}`)))
	assert.Equal(t, []string{"BTC"}, ing.seen())
	assert.Equal(t, 1, m.count("pipeline_transform_drop"))
}

func TestPipelineAsyncBufferAndDrain(t *testing.T) {
	ing := &recordingIngestor{block: make(chan struct{})}
	m := &errCounter{}
	p := NewSnapshotPipeline(ing, m, WithMaxRPS(0), WithBufferSize(1))
	ctx := context.Background()
	p.Start(ctx)

	require.NoError(t, p.Process(ctx, []byte(`{"coin":"A"}`)))
	// the worker takes A and blocks on it, leaving room for exactly one more
	require.Eventually(t, func() bool { return p.Depth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Process(ctx, []byte(`{"coin":"B"}`)))
	assert.ErrorIs(t, p.Process(ctx, []byte(`{"coin":"C"}`)), ErrBufferFull)
	assert.Equal(t, 1, m.count("pipeline_buffer_full"))

	close(ing.block)
	p.Stop()
	assert.Equal(t, []string{"A", "B"}, ing.seen())
}

func TestPipelineRestart(t *testing.T) {
	ing := &recordingIngestor{}
	p := NewSnapshotPipeline(ing, &errCounter{}, WithMaxRPS(0))
	ctx := context.Background()

	for _, coin := range []string{"A", "B"} {
		p.Start(ctx)
		require.NoError(t, p.Process(ctx, []byte(`{"coin":"`+coin+`"}`)))
		require.NotPanics(t, p.Stop)
	}
	require.NotPanics(t, p.Stop, "stopping twice is a no-op")

	require.NoError(t, p.Process(ctx, []byte(`{"coin":"C"}`)))
	assert.Equal(t, []string{"A", "B", "C"}, ing.seen(), "delivery is synchronous once stopped")
}
