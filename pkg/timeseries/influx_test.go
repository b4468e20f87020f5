package timeseries

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentReadingsFluxMergesTagTablesBeforeSort(t *testing.T) {
	flux := recentReadingsFlux("telemetry", "L1-M1", 100)

	assert.Contains(t, flux, `r.machine_id == "L1-M1"`)
	assert.Contains(t, flux, "limit(n: 100)")

	// A machine with both injected and baseline rows lands in two tables
	// (is_injected is a tag, and pivot preserves the group key). sort and
	// limit are per-table, so group() must come between pivot and sort for
	// the result to be globally newest-first and capped at the limit.
	pivot := strings.Index(flux, "pivot(")
	group := strings.Index(flux, "group()")
	sorted := strings.Index(flux, "sort(")
	limited := strings.Index(flux, "limit(")
	require.NotEqual(t, -1, pivot)
	require.NotEqual(t, -1, group)
	require.NotEqual(t, -1, sorted)
	require.NotEqual(t, -1, limited)
	assert.Less(t, pivot, group)
	assert.Less(t, group, sorted)
	assert.Less(t, sorted, limited)
}
