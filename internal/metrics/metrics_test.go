package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	require.NotNil(t, m.Registry)

	m.PagesCrawled.Inc()
	m.PagesFailed.Inc()
	m.RecordsScored.Add(3)
	m.ScoringRetries.Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(m.PagesCrawled), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PagesFailed), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.RecordsScored), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ScoringRetries), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.RecordsSaved), 1e-9)
}

func TestIndependentRegistries(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.PagesCrawled.Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(a.PagesCrawled), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(b.PagesCrawled), 1e-9)
}
