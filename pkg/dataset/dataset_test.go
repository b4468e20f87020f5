package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Timestamp,Factory,Line,Machine,Temperature_C,Vibration_mm_s,Power_kW,CycleTime_s,Status,RiskScore,PredictedFailureDate,LineThroughputForecast_units_per_day,EnergyDeviation_kW
2025-01-01T00:00:00Z,Demo Factory,L1,L1-M1,68.5,1.2,14.1,29,Running,0.1,2025-01-14T00:00:00Z,470,0.1
2025-01-01T01:00:00Z,Demo Factory,L1,L1-M1,69.0,1.3,14.2,30,Running,0.12,2025-01-14T00:00:00Z,468,0.2
2025-01-01T00:00:00Z,Demo Factory,L2,L2-M3,72.0,2.1,13.8,31,Running,0.2,2025-01-12T00:00:00Z,455,-0.2
`

func TestLoad(t *testing.T) {
	rows, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "L1-M1", rows[0].MachineID)
	assert.Equal(t, "L1", rows[0].LineID)
	assert.Equal(t, 68.5, rows[0].Reading.TemperatureC)
	assert.Equal(t, 470.0, rows[0].LineThroughput)
	assert.Equal(t, "L2", rows[2].LineID)
}

func TestLoad_RejectsUnknownMachine(t *testing.T) {
	bad := strings.Replace(sampleCSV, "L2-M3", "L9-M9", 1)
	_, err := Load(strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid machine id")
}

func TestLoad_RejectsMissingColumn(t *testing.T) {
	_, err := Load(strings.NewReader("Timestamp,Line\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestLastReadingPerMachine(t *testing.T) {
	rows, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	last := LastReadingPerMachine(rows)
	require.Len(t, last, 2)
	assert.Equal(t, 69.0, last["L1-M1"].Reading.TemperatureC, "last row per machine wins")
	assert.Equal(t, 72.0, last["L2-M3"].Reading.TemperatureC)
}

func TestMachineAndLineIDs(t *testing.T) {
	rows, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"L1-M1", "L2-M3"}, MachineIDs(rows))
	assert.Equal(t, []string{"L1", "L2"}, LineIDs(rows))
}
