// Package middleware sits between a push feed and the analytics session.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	"FlowScope/internal/service/ratelimit"
	"FlowScope/internal/services/feed"
	applogger "FlowScope/pkg/logger"
)

var ErrBufferFull = errors.New("pipeline buffer full")

// Ingestor is the part of the session the pipeline feeds.
type Ingestor interface {
	IngestSnapshot(ctx context.Context, snap *models.Snapshot) (*models.AnalyticsRecord, error)
}

// SnapshotPipeline validates frames, throttles each coin and hands snapshots
// to a single worker so the reader never waits on analytics.
type SnapshotPipeline struct {
	ing       Ingestor
	metrics   domrepo.Metrics
	l         *applogger.Logger
	maxRPS    int
	bufSize   int
	transform func(*models.Snapshot) *models.Snapshot
	now       func() time.Time

	limiter *ratelimit.Limiter
	bufCh   chan *models.Snapshot

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type PipelineOption func(*SnapshotPipeline)

// WithMaxRPS caps accepted snapshots per coin per second. 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

func WithBufferSize(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform rewrites each snapshot before throttling. Returning nil drops it.
func WithTransform(fn func(*models.Snapshot) *models.Snapshot) PipelineOption {
	return func(p *SnapshotPipeline) { p.transform = fn }
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *SnapshotPipeline) { p.l = l }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *SnapshotPipeline) { p.now = now }
}

func NewSnapshotPipeline(ing Ingestor, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		ing:     ing,
		metrics: metrics,
		l:       applogger.Nop(),
		maxRPS:  20,
		bufSize: 1000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Snapshot, p.bufSize)
	p.limiter = ratelimit.New(float64(p.maxRPS), float64(p.maxRPS), ratelimit.WithClock(p.now))
	return p
}

// Start launches the worker. Before Start, and after Stop, Process delivers synchronously.
func (p *SnapshotPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(ctx, p.stopCh)
}

func (p *SnapshotPipeline) run(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		case snap := <-p.bufCh:
			p.deliver(ctx, snap)
		}
	}
}

func (p *SnapshotPipeline) drain(ctx context.Context) {
	for {
		select {
		case snap := <-p.bufCh:
			p.deliver(ctx, snap)
		default:
			return
		}
	}
}

func (p *SnapshotPipeline) deliver(ctx context.Context, snap *models.Snapshot) {
	if _, err := p.ing.IngestSnapshot(ctx, snap); err != nil {
		p.metrics.RecordError("pipeline_ingest")
		p.l.Warn("pipeline ingest failed", applogger.Coin(snap.Coin), applogger.Error(err))
	}
}

// Stop delivers what is buffered and waits for the worker.
func (p *SnapshotPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop := p.stopCh
	p.mu.Unlock()
	close(stop)
	p.wg.Wait()
}

// Process handles one raw frame. Throttled frames are dropped without error.
func (p *SnapshotPipeline) Process(ctx context.Context, raw []byte) error {
	start := p.now()
	snap, err := feed.Sanitize(raw)
	if err != nil {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("pipeline: %w", err)
	}
	if p.transform != nil {
		if snap = p.transform(snap); snap == nil || snap.Coin == "" {
			p.metrics.RecordError("pipeline_transform_drop")
			return nil
		}
	}
	if !p.limiter.Allow(snap.Coin) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	p.mu.Lock()
	async := p.started
	p.mu.Unlock()
	if !async {
		p.deliver(ctx, snap)
		p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
		return nil
	}
	select {
	case p.bufCh <- snap:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrBufferFull
	}
}

// Depth is the number of buffered snapshots.
func (p *SnapshotPipeline) Depth() int { return len(p.bufCh) }
