package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWriterLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "engine"))
	l.Info("snapshot processed", String("coin", "BTC"), Float64("risk", 42.5), Error(errors.New("boom")))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if entry["coin"] != "BTC" || entry["component"] != "engine" {
		t.Fatalf("missing fields: %v", entry)
	}
	if entry["risk"].(float64) != 42.5 {
		t.Fatalf("risk = %v", entry["risk"])
	}
	if entry["error"] != "boom" {
		t.Fatalf("error = %v", entry["error"])
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	topic  string
	batchs [][]AggregatedLogEntry
	got    chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batchs = append(p.batchs, payload.([]AggregatedLogEntry))
	select {
	case p.got <- struct{}{}:
	default:
	}
	return nil
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{got: make(chan struct{}, 1)}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("persist failed", String("coin", "ETH"))
	}
	l.RemoveCollector()

	select {
	case <-pub.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("collector never flushed")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "logs" {
		t.Fatalf("topic = %s", pub.topic)
	}
	if len(pub.batchs) != 1 || len(pub.batchs[0]) != 1 {
		t.Fatalf("expected one aggregated entry, got %v", pub.batchs)
	}
	if pub.batchs[0][0].Count != 3 {
		t.Fatalf("count = %d", pub.batchs[0][0].Count)
	}
}

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Warn("recommendation failed", Coin("BTC"), Timeframe("120m"), Duration("took", 1500*time.Millisecond))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["coin"] != "BTC" || entry["tf"] != "120m" || entry["took"] != 1500.0 {
		t.Fatalf("unexpected entry: %v", entry)
	}

	if k, v := Error(nil).GetKeyValue(); k != "error" || v != "" {
		t.Fatalf("nil error field = %q %v", k, v)
	}
}
