package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAPIMetrics(t *testing.T) {
	m := NewAPIMetrics(prometheus.NewRegistry())
	m.Observe("risk", time.Now(), nil)
	m.Observe("risk", time.Now(), errors.New("x"))
	m.CacheHit("risk")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("risk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("risk")))

	var nilMetrics *APIMetrics
	assert.NotPanics(t, func() { nilMetrics.Observe("x", time.Now(), nil) })
}
