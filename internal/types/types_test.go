package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframe_Contains(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tf   Timeframe
		at   time.Time
		want bool
	}{
		{"six hours includes lower bound", TimeframeSixHours, now.Add(-6 * time.Hour), true},
		{"six hours excludes older", TimeframeSixHours, now.Add(-6*time.Hour - time.Second), false},
		{"right-open excludes now", TimeframeDay, now, false},
		{"excludes future", TimeframeDay, now.Add(time.Minute), false},
		{"week includes six days ago", TimeframeWeek, now.Add(-6 * 24 * time.Hour), true},
		{"month excludes 31 days ago", TimeframeMonth, now.Add(-31 * 24 * time.Hour), false},
		{"all time is unbounded below", TimeframeAllTime, now.AddDate(-5, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tf.Contains(tt.at, now))
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	for _, tf := range AllTimeframes {
		got, err := ParseTimeframe(string(tf))
		require.NoError(t, err)
		assert.Equal(t, tf, got)
	}

	_, err := ParseTimeframe("fortnight")
	assert.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	got, err := ParseMetric("hit_rate")
	require.NoError(t, err)
	assert.Equal(t, MetricHitRate, got)

	_, err = ParseMetric("roi")
	assert.Error(t, err)
}

func TestChainID_IsEVM(t *testing.T) {
	assert.True(t, ChainEthereum.IsEVM())
	assert.True(t, ChainBase.IsEVM())
	assert.False(t, ChainSolana.IsEVM())
}
