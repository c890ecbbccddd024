package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRangeDefaultsToTrailingYear(t *testing.T) {
	orig, origEnd := rangeStart, rangeEnd
	rangeStart, rangeEnd = "", ""
	defer func() { rangeStart, rangeEnd = orig, origEnd }()

	start, end, err := resolveRange()
	require.NoError(t, err)
	assert.True(t, start.Before(end))
	assert.WithinDuration(t, end.AddDate(-1, 0, 0), start, 0)
}

func TestResolveRangeParsesExplicitFlags(t *testing.T) {
	orig, origEnd := rangeStart, rangeEnd
	rangeStart, rangeEnd = "2025-01-01", "2025-03-01"
	defer func() { rangeStart, rangeEnd = orig, origEnd }()

	start, end, err := resolveRange()
	require.NoError(t, err)
	assert.Equal(t, 2025, start.Year())
	assert.Equal(t, 1, int(start.Month()))
	assert.Equal(t, 3, int(end.Month()))
}

func TestResolveRangeRejectsInvalidDate(t *testing.T) {
	orig, origEnd := rangeStart, rangeEnd
	rangeStart, rangeEnd = "not-a-date", ""
	defer func() { rangeStart, rangeEnd = orig, origEnd }()

	_, _, err := resolveRange()
	assert.Error(t, err)
}

func TestRecordRunMetricsNilSafe(t *testing.T) {
	origMetrics := metrics
	metrics = nil
	defer func() { metrics = origMetrics }()

	recordRunMetrics(nil)
}
