package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightVibration + WeightTemperature + WeightPower + WeightCycleTime
	assert.Equal(t, 1.0, sum)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"below nominal", 0.5, 0},
		{"at nominal", 1.0, 0},
		{"at critical", 5.0, 1},
		{"above critical", 12.0, 1},
		{"midpoint", 3.0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Normalize(tt.value, 1.0, 5.0), 1e-9)
		})
	}
}

func TestNormalize_Monotonic(t *testing.T) {
	prev := -1.0
	for v := 0.0; v <= 6.0; v += 0.25 {
		score := Normalize(v, 1.0, 5.0)
		require.GreaterOrEqual(t, score, prev, "normalize must be non-decreasing at %v", v)
		prev = score
	}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name    string
		reading models.SensorReading
		check   func(t *testing.T, risk float64)
	}{
		{
			name:    "baseline values score low",
			reading: models.SensorReading{TemperatureC: 70, VibrationMMS: 1.5, PowerKW: 14, CycleTimeS: 30},
			check: func(t *testing.T, risk float64) {
				assert.Less(t, risk, 0.4)
				assert.GreaterOrEqual(t, risk, 0.0)
			},
		},
		{
			name:    "anomaly values score high",
			reading: models.SensorReading{TemperatureC: 95, VibrationMMS: 5.0, PowerKW: 14, CycleTimeS: 30},
			check: func(t *testing.T, risk float64) {
				assert.Greater(t, risk, 0.8)
			},
		},
		{
			name:    "all nominal scores near zero",
			reading: models.SensorReading{TemperatureC: 60, VibrationMMS: 1.0, PowerKW: 14, CycleTimeS: 28},
			check: func(t *testing.T, risk float64) {
				assert.Less(t, risk, 0.2)
			},
		},
		{
			name:    "all critical scores near one",
			reading: models.SensorReading{TemperatureC: 100, VibrationMMS: 6.0, PowerKW: 25, CycleTimeS: 50},
			check: func(t *testing.T, risk float64) {
				assert.Greater(t, risk, 0.9)
				assert.LessOrEqual(t, risk, 1.0)
			},
		},
		{
			name:    "single-axis anomaly scores mid-range",
			reading: models.SensorReading{TemperatureC: 65, VibrationMMS: 5.0, PowerKW: 14, CycleTimeS: 28},
			check: func(t *testing.T, risk float64) {
				assert.Greater(t, risk, 0.3)
				assert.Less(t, risk, 0.7)
			},
		},
		{
			name:    "under-consumption also raises power risk",
			reading: models.SensorReading{TemperatureC: 65, VibrationMMS: 1.0, PowerKW: 6, CycleTimeS: 28},
			check: func(t *testing.T, risk float64) {
				assert.InDelta(t, WeightPower, risk, 1e-9)
			},
		},
		{
			name:    "extreme values clamp to one",
			reading: models.SensorReading{TemperatureC: 150, VibrationMMS: 10, PowerKW: 30, CycleTimeS: 60},
			check: func(t *testing.T, risk float64) {
				assert.Equal(t, 1.0, risk)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RiskScore(tt.reading))
		})
	}
}

func TestPredictedFailureDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	zero := PredictedFailureDate(0.0, now)
	assert.Equal(t, now.Add(14*24*time.Hour), zero)

	half := PredictedFailureDate(0.5, now)
	days := half.Sub(now).Hours() / 24
	assert.InDelta(t, 7.5, days, 0.001)

	one := PredictedFailureDate(1.0, now)
	assert.Equal(t, now.Add(24*time.Hour), one)
}

func TestPredictedFailureDate_MonotonicInRisk(t *testing.T) {
	now := time.Now()
	prev := PredictedFailureDate(0, now)
	for risk := 0.1; risk <= 1.0; risk += 0.1 {
		next := PredictedFailureDate(risk, now)
		require.True(t, next.Before(prev), "higher risk must predict earlier failure")
		require.True(t, next.After(now), "predicted failure must be in the future")
		prev = next
	}
}

func TestEnergyDeviation(t *testing.T) {
	assert.Equal(t, 0.0, EnergyDeviation(14))
	assert.Equal(t, 6.0, EnergyDeviation(20))
	assert.Equal(t, -6.0, EnergyDeviation(8))
	assert.Equal(t, 0.35, EnergyDeviation(14.349))
}

func TestLineRisk(t *testing.T) {
	assert.Equal(t, 0.0, LineRisk(nil))
	assert.InDelta(t, 0.4, LineRisk([]float64{0.2, 0.3, 0.4, 0.5, 0.6}), 1e-9)
}

func TestLineThroughput(t *testing.T) {
	capacity := models.DefaultLineCapacity

	t.Run("empty line forecasts full capacity", func(t *testing.T) {
		assert.Equal(t, capacity, LineThroughput(nil, capacity))
	})

	t.Run("low risk stays near capacity", func(t *testing.T) {
		got := LineThroughput([]float64{0.1, 0.1, 0.1, 0.1, 0.1}, capacity)
		assert.Greater(t, got, 450.0)
		assert.LessOrEqual(t, got, capacity)
	})

	t.Run("one bad machine drops the forecast disproportionately", func(t *testing.T) {
		flat := LineThroughput([]float64{0.26, 0.26, 0.26, 0.26, 0.26}, capacity)
		bottleneck := LineThroughput([]float64{0.1, 0.1, 0.9, 0.1, 0.1}, capacity)
		assert.Less(t, bottleneck, flat)
		assert.Less(t, bottleneck, 450.0)
	})

	t.Run("all machines at max risk", func(t *testing.T) {
		got := LineThroughput([]float64{1, 1, 1, 1, 1}, capacity)
		assert.Less(t, got, 300.0)
		assert.GreaterOrEqual(t, got, 0.0)
	})

	t.Run("monotonic in uniform line risk", func(t *testing.T) {
		prev := capacity + 1
		for risk := 0.0; risk <= 1.0; risk += 0.05 {
			got := LineThroughput([]float64{risk, risk, risk, risk, risk}, capacity)
			require.LessOrEqual(t, got, prev)
			require.GreaterOrEqual(t, got, 0.0)
			prev = got
		}
	})
}

func TestFactoryRisk(t *testing.T) {
	assert.Equal(t, 0.0, FactoryRisk(nil))
	assert.InDelta(t, 0.4, FactoryRisk([]float64{0.3, 0.4, 0.5}), 1e-9)
}
