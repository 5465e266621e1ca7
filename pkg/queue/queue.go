// Package queue is a small Redis list queue with delayed retries and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is what producers depend on.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	PopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
	return c
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("queue: decode payload: %w", err)
	}
	return out, nil
}
