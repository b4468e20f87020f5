package models

import (
	"regexp"
	"strings"
	"time"
)

// Machine status values. Running and Warning are derived from the risk
// score; Down is never derived and is reserved for manual intervention.
const (
	StatusRunning = "Running"
	StatusWarning = "Warning"
	StatusDown    = "Down"
)

// HighRiskThreshold is the risk score above which a machine is flagged Warning.
const HighRiskThreshold = 0.7

// machineIDPattern matches the fixed demo fleet: L{1-3}-M{1-5}.
var machineIDPattern = regexp.MustCompile(`^L[1-3]-M[1-5]$`)

// SensorReading holds the four raw sensor values of a machine at a point
// in time. All derived machine state is a pure function of these.
type SensorReading struct {
	TemperatureC float64 `json:"temperature_c"`
	VibrationMMS float64 `json:"vibration_mm_s"`
	PowerKW      float64 `json:"power_kw"`
	CycleTimeS   float64 `json:"cycle_time_s"`
}

// Machine is the current state of a single machine, sensor fields plus the
// derived fields computed from the last applied reading.
type Machine struct {
	MachineID            string    `json:"machine_id"`
	LineID               string    `json:"line"`
	Name                 string    `json:"name"`
	Status               string    `json:"status"`
	TemperatureC         float64   `json:"temperature_c"`
	VibrationMMS         float64   `json:"vibration_mm_s"`
	PowerKW              float64   `json:"power_kw"`
	CycleTimeS           float64   `json:"cycle_time_s"`
	RiskScore            float64   `json:"risk_score"`
	PredictedFailureDate time.Time `json:"predicted_failure_date"`
	EnergyDeviationKW    float64   `json:"energy_deviation_kw"`
}

// Reading returns the machine's current sensor values.
func (m *Machine) Reading() SensorReading {
	return SensorReading{
		TemperatureC: m.TemperatureC,
		VibrationMMS: m.VibrationMMS,
		PowerKW:      m.PowerKW,
		CycleTimeS:   m.CycleTimeS,
	}
}

// SetReading replaces the machine's sensor values.
func (m *Machine) SetReading(r SensorReading) {
	m.TemperatureC = r.TemperatureC
	m.VibrationMMS = r.VibrationMMS
	m.PowerKW = r.PowerKW
	m.CycleTimeS = r.CycleTimeS
}

// ValidMachineID reports whether id names a machine in the demo fleet.
func ValidMachineID(id string) bool {
	return machineIDPattern.MatchString(id)
}

// LineIDOf extracts the owning line id from a machine id ("L1-M2" -> "L1").
func LineIDOf(machineID string) string {
	if i := strings.IndexByte(machineID, '-'); i > 0 {
		return machineID[:i]
	}
	return machineID
}

// StatusForRisk derives the machine status from a risk score. Down is never
// derived here.
func StatusForRisk(risk float64) string {
	if risk > HighRiskThreshold {
		return StatusWarning
	}
	return StatusRunning
}

// SensorBound is an inclusive validation range for one sensor field.
type SensorBound struct {
	Min float64
	Max float64
}

// SensorBounds are the accepted input ranges per sensor field. Values
// outside these ranges are rejected at the boundary before any state access.
var SensorBounds = map[string]SensorBound{
	"temperature_c":  {Min: -40, Max: 200},
	"vibration_mm_s": {Min: 0, Max: 50},
	"power_kw":       {Min: 0, Max: 100},
	"cycle_time_s":   {Min: 1, Max: 300},
}
