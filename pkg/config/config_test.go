package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\ningest:\n  source: none\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Persistence.Throttle)
	assert.Equal(t, "memory", c.Persistence.Backend)
	assert.True(t, c.Persistence.Enabled)
	assert.Equal(t, 60*time.Second, c.Engine.AlertCooldown)
	assert.Equal(t, 2.0, c.Engine.TPMinPct)
	assert.Equal(t, 10.0, c.Engine.TPMaxPct)
	assert.Equal(t, 5.0, c.Engine.SLMaxPct)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
}

func TestParseOverridesDefaults(t *testing.T) {
	raw := `
environment: prod
ingest:
  source: kafka
kafka:
  brokers: ["k1:9092", "k2:9092"]
persistence:
  enabled: false
  backend: redis
engine:
  tp_min_pct: 1
  tp_max_pct: 4
  use_atr_sizing: true
  alert_rules:
    - id: custom
      metric: riskScore
      comparator: ">"
      threshold: 80
      severity: danger
      enabled: true
`
	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.False(t, c.Persistence.Enabled)
	assert.Equal(t, "redis", c.Persistence.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Engine.UseATRSizing)
	require.Len(t, c.Engine.AlertRules, 1)
	assert.Equal(t, "riskScore", c.Engine.AlertRules[0].Metric)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing environment", "ingest:\n  source: none\n"},
		{"kafka without brokers", "environment: x\ningest:\n  source: kafka\n"},
		{"websocket without url", "environment: x\ningest:\n  source: websocket\n"},
		{"bad persistence backend", "environment: x\ningest:\n  source: none\npersistence:\n  backend: s3\n"},
		{"tp min above max", "environment: x\ningest:\n  source: none\nengine:\n  tp_min_pct: 20\n"},
		{"postgres rules without dsn", "environment: x\ningest:\n  source: none\nrules:\n  backend: postgres\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\ningest:\n  source: none\n"))
	require.NoError(t, err)

	env := map[string]string{
		"KAFKA_BROKERS":   "a:1,b:2",
		"REDIS_ADDR":      "cache.local:6380",
		"PERSIST_BACKEND": "layered",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"a:1", "b:2"}, c.Kafka.Brokers)
	assert.Equal(t, "cache.local", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "layered", c.Persistence.Backend)
}
