package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/services/feed"
	pkgkafka "FlowScope/pkg/kafka"
)

type scriptedStream struct {
	mu         sync.Mutex
	rounds     [][]string
	reads      int
	reconnects int
	connected  bool
	closed     bool
}

func (s *scriptedStream) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Subscribe(context.Context) error { return nil }

// Read replays one round and then fails; once rounds run out it idles until ctx ends.
func (s *scriptedStream) Read(ctx context.Context) (<-chan []byte, <-chan error) {
	s.mu.Lock()
	i := s.reads
	s.reads++
	s.mu.Unlock()

	frames := make(chan []byte, 8)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer close(errs)
		if i >= len(s.rounds) {
			<-ctx.Done()
			return
		}
		for _, f := range s.rounds[i] {
			frames <- []byte(f)
		}
		errs <- errors.New("connection reset")
	}()
	return frames, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	s.closed, s.connected = true, false
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type framePipe struct {
	mu               sync.Mutex
	frames           []string
	started, stopped bool
}

func (p *framePipe) Process(_ context.Context, raw []byte) error {
	p.mu.Lock()
	p.frames = append(p.frames, string(raw))
	p.mu.Unlock()
	return nil
}

func (p *framePipe) Start(context.Context) { p.started = true }
func (p *framePipe) Stop()                 { p.stopped = true }

func (p *framePipe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func TestCollectorReconnectsAndShutsDown(t *testing.T) {
	stream := &scriptedStream{rounds: [][]string{{"a", "b"}, {"c"}}}
	pipe := &framePipe{}
	m := newCountingMetrics()
	c := NewSnapshotCollector(stream, pipe, m, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())
	assert.True(t, pipe.started)

	require.Eventually(t, func() bool { return pipe.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.errorCount("stream") == 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, stream.closed)
	assert.True(t, pipe.stopped)
	assert.Equal(t, []string{"a", "b", "c"}, pipe.frames)
	assert.Equal(t, 2, stream.reconnects)
}

type stubIngester struct{ err error }

func (s stubIngester) Ingest(context.Context, []byte) (*models.AnalyticsRecord, error) {
	return nil, s.err
}

func TestSnapshotHandlerClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		permanent bool
	}{
		{"ok", nil, false, false},
		{"malformed", fmt.Errorf("ingest: %w", feed.ErrMalformed), true, true},
		{"missing coin", feed.ErrMissingCoin, true, true},
		{"transient", errors.New("timeout"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newCountingMetrics()
			h := NewSnapshotHandler("coin_snapshots", stubIngester{err: tt.err}, m)
			assert.Equal(t, "coin_snapshots", h.Topic())
			err := h.Handle(context.Background(), []byte(`{}`))
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.permanent, pkgkafka.IsPermanent(err))
			if tt.permanent {
				assert.Equal(t, 1, m.errorCount("kafka_malformed"))
			}
		})
	}
}

func TestSnapshotHandlerWithSession(t *testing.T) {
	s := NewSession(SessionConfig{}, nil)
	h := NewSnapshotHandler("t", s, nil)
	require.NoError(t, h.Handle(context.Background(), payload("BTC", 100, 1, 1)))
	assert.Equal(t, []string{"BTC"}, s.Coins())
	assert.True(t, pkgkafka.IsPermanent(h.Handle(context.Background(), []byte(`{"coin":""}`))))
}
