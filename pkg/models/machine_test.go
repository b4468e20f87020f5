package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidMachineID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"L1-M1", true},
		{"L3-M5", true},
		{"L2-M3", true},
		{"L4-M1", false},
		{"L1-M6", false},
		{"L1-M0", false},
		{"l1-m1", false},
		{"L1M1", false},
		{"L1-M1 ", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidMachineID(tt.id), "id %q", tt.id)
	}
}

func TestLineIDOf(t *testing.T) {
	assert.Equal(t, "L1", LineIDOf("L1-M2"))
	assert.Equal(t, "L3", LineIDOf("L3-M5"))
	assert.Equal(t, "L1", LineIDOf("L1"))
}

func TestStatusForRisk(t *testing.T) {
	assert.Equal(t, StatusRunning, StatusForRisk(0))
	assert.Equal(t, StatusRunning, StatusForRisk(0.7), "threshold itself is not a warning")
	assert.Equal(t, StatusWarning, StatusForRisk(0.71))
	assert.Equal(t, StatusWarning, StatusForRisk(1.0))
}

func TestReadingRoundTrip(t *testing.T) {
	m := Machine{}
	r := SensorReading{TemperatureC: 70, VibrationMMS: 1.5, PowerKW: 14.2, CycleTimeS: 30}
	m.SetReading(r)
	assert.Equal(t, r, m.Reading())
}
