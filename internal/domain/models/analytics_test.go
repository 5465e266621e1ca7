package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsRecordClone(t *testing.T) {
	z, p, div := 1.5, 2, "Bullish divergence"
	orig := &AnalyticsRecord{
		RiskScore:         40,
		VolDurabilityByTf: map[Timeframe]float64{TF120m: 55},
		ZScoreBuy2h:       &z,
		PersistenceBuy3:   &p,
		Divergence:        &div,
		SharpInsights:     []string{"spike"},
	}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	*cp.ZScoreBuy2h = 9
	*cp.PersistenceBuy3 = 0
	*cp.Divergence = ""
	cp.VolDurabilityByTf[TF5m] = 1
	cp.SharpInsights[0] = "changed"

	assert.Equal(t, 1.5, *orig.ZScoreBuy2h)
	assert.Equal(t, 2, *orig.PersistenceBuy3)
	assert.Equal(t, "Bullish divergence", *orig.Divergence)
	assert.Len(t, orig.VolDurabilityByTf, 1)
	assert.Equal(t, "spike", orig.SharpInsights[0])

	assert.Nil(t, (*AnalyticsRecord)(nil).Clone())
	assert.Nil(t, (&AnalyticsRecord{}).Clone().ZScoreSell2h)
}
