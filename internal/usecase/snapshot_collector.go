package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	drepo "FlowScope/internal/domain/repository"
	applogger "FlowScope/pkg/logger"
)

// FrameProcessor takes raw feed frames, typically a middleware.SnapshotPipeline.
type FrameProcessor interface {
	Process(ctx context.Context, raw []byte) error
	Start(ctx context.Context)
	Stop()
}

// SnapshotCollector reads a push feed and reconnects when it drops.
type SnapshotCollector struct {
	stream  drepo.SnapshotStream
	pipe    FrameProcessor
	metrics drepo.Metrics
	l       *applogger.Logger

	maxBackoff time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewSnapshotCollector(stream drepo.SnapshotStream, pipe FrameProcessor, metrics drepo.Metrics, l *applogger.Logger) *SnapshotCollector {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &SnapshotCollector{stream: stream, pipe: pipe, metrics: metrics, l: l, maxBackoff: 30 * time.Second}
}

func (c *SnapshotCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects once synchronously so a bad URL fails fast, then reads in the background.
func (c *SnapshotCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

func (c *SnapshotCollector) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		frames, errs := c.stream.Read(ctx)
		err := c.consume(ctx, frames, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.l.Warn("feed stream dropped, reconnecting", applogger.Error(err))
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *SnapshotCollector) consume(ctx context.Context, frames <-chan []byte, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-frames:
			if !ok {
				if err, ok := <-errs; ok && err != nil {
					return err
				}
				return errors.New("feed stream closed")
			}
			if err := c.pipe.Process(ctx, b); err != nil {
				c.l.Debug("frame rejected", applogger.Error(err))
			}
		}
	}
}

func (c *SnapshotCollector) reconnect(ctx context.Context) bool {
	backoff := time.Second
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.l.Info("feed reconnected")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("stream_reconnect")
		c.l.Warn("feed reconnect failed", applogger.Error(err), applogger.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Shutdown stops reading, drains the pipeline and closes the stream.
func (c *SnapshotCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.pipe.Stop()
	return err
}
