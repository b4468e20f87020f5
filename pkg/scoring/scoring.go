// Package scoring implements the pure risk-scoring functions of the
// production risk radar: weighted threshold-based risk scores, predicted
// failure dates, line throughput forecasts, and energy deviations.
//
// Every function is stateless and deterministic; PredictedFailureDate takes
// an explicit "now" so callers and tests control the reference time.
package scoring

import (
	"math"
	"time"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// Sensor thresholds: below nominal a sensor contributes zero risk, at or
// above critical it contributes its full weight.
const (
	VibrationNominal  = 1.0
	VibrationCritical = 5.0

	TemperatureNominal  = 65.0
	TemperatureCritical = 95.0

	PowerNominalKW         = 14.0
	PowerDeviationCritical = 8.0

	CycleTimeNominal  = 28.0
	CycleTimeCritical = 45.0
)

// Risk weights per sensor axis. These must sum to exactly 1.0.
const (
	WeightVibration   = 0.45
	WeightTemperature = 0.35
	WeightPower       = 0.10
	WeightCycleTime   = 0.10
)

// Throughput forecast constants.
const (
	ThroughputReductionFactor = 0.6
	BlendedAvgWeight          = 0.6
	BlendedMaxWeight          = 0.4
)

// Predicted failure horizon: risk 0 maps to FailureMaxDays out, risk 1 to
// FailureMinDays out.
const (
	FailureMaxDays = 14.0
	FailureMinDays = 1.0
)

func clamp(value, min, max float64) float64 {
	return math.Min(math.Max(value, min), max)
}

// Normalize maps a sensor value to [0,1] against nominal and critical
// thresholds: 0 at or below nominal, 1 at or above critical, linear in
// between. Requires nominal < critical.
func Normalize(value, nominal, critical float64) float64 {
	if value <= nominal {
		return 0
	}
	if value >= critical {
		return 1
	}
	return (value - nominal) / (critical - nominal)
}

// RiskScore computes the weighted risk score in [0,1] for a single sensor
// reading. Each axis is normalized and clamped before weighting, and the
// weighted sum is clamped again.
func RiskScore(r models.SensorReading) float64 {
	vibration := Normalize(r.VibrationMMS, VibrationNominal, VibrationCritical)
	temperature := Normalize(r.TemperatureC, TemperatureNominal, TemperatureCritical)
	power := Normalize(math.Abs(r.PowerKW-PowerNominalKW), 0, PowerDeviationCritical)
	cycleTime := Normalize(r.CycleTimeS, CycleTimeNominal, CycleTimeCritical)

	weighted := WeightVibration*clamp(vibration, 0, 1) +
		WeightTemperature*clamp(temperature, 0, 1) +
		WeightPower*clamp(power, 0, 1) +
		WeightCycleTime*clamp(cycleTime, 0, 1)

	return clamp(weighted, 0, 1)
}

// PredictedFailureDate maps a risk score linearly to a point in time:
// risk 0 is 14 days after now, risk 1 is 1 day after now.
func PredictedFailureDate(risk float64, now time.Time) time.Time {
	daysOut := FailureMaxDays - risk*(FailureMaxDays-FailureMinDays)
	return now.Add(time.Duration(daysOut * 24 * float64(time.Hour)))
}

// EnergyDeviation returns the signed deviation of a power draw from the
// nominal 14 kW baseline, rounded to two decimal places.
func EnergyDeviation(powerKW float64) float64 {
	return math.Round((powerKW-PowerNominalKW)*100) / 100
}

// LineRisk is the arithmetic mean of a line's machine risk scores, 0 when
// the line has no machines.
func LineRisk(machineRisks []float64) float64 {
	if len(machineRisks) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range machineRisks {
		sum += r
	}
	return sum / float64(len(machineRisks))
}

// LineThroughput forecasts units/day for a line. The blended risk weighs
// the mean risk at 60% and the single worst machine at 40%, so one bad
// machine bottlenecks the line disproportionately. An empty line forecasts
// its full capacity. The result is clamped to [0, capacity].
func LineThroughput(machineRisks []float64, capacity float64) float64 {
	if len(machineRisks) == 0 {
		return capacity
	}
	avg := LineRisk(machineRisks)
	max := machineRisks[0]
	for _, r := range machineRisks[1:] {
		if r > max {
			max = r
		}
	}
	blended := BlendedAvgWeight*avg + BlendedMaxWeight*max
	return clamp(math.Round(capacity*(1-blended*ThroughputReductionFactor)), 0, capacity)
}

// FactoryRisk is the arithmetic mean of the line risk scores, 0 when there
// are no lines.
func FactoryRisk(lineRisks []float64) float64 {
	if len(lineRisks) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range lineRisks {
		sum += r
	}
	return sum / float64(len(lineRisks))
}
