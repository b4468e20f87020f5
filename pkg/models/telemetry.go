package models

import "time"

// Telemetry query limits for the boundary layer.
const (
	DefaultTelemetryLimit = 100
	MaxTelemetryLimit     = 1000
)

// TelemetryReading is one immutable, append-only telemetry row: the raw
// sensor values plus the derived fields as computed at insert time.
// Injected rows come from demo overrides; baseline rows from dataset seeding.
type TelemetryReading struct {
	ID                   int64     `json:"id,omitempty"`
	MachineID            string    `json:"machine_id"`
	Timestamp            time.Time `json:"timestamp"`
	TemperatureC         float64   `json:"temperature_c"`
	VibrationMMS         float64   `json:"vibration_mm_s"`
	PowerKW              float64   `json:"power_kw"`
	CycleTimeS           float64   `json:"cycle_time_s"`
	RiskScore            float64   `json:"risk_score"`
	PredictedFailureDate time.Time `json:"predicted_failure_date"`
	ThroughputForecast   float64   `json:"throughput_forecast"`
	EnergyDeviationKW    float64   `json:"energy_deviation_kw"`
	IsInjected           bool      `json:"is_injected"`
}

// Reading returns the raw sensor values of the telemetry row.
func (t *TelemetryReading) Reading() SensorReading {
	return SensorReading{
		TemperatureC: t.TemperatureC,
		VibrationMMS: t.VibrationMMS,
		PowerKW:      t.PowerKW,
		CycleTimeS:   t.CycleTimeS,
	}
}
