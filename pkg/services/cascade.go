package services

import (
	"context"

	"github.com/xcthomaswagner/production-risk-radar/pkg/dataset"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// Overrides carries zero or more sensor-field overrides for one machine.
// Nil fields retain the machine's current stored value.
type Overrides struct {
	Temperature *float64 `json:"temperature_c,omitempty"`
	Vibration   *float64 `json:"vibration_mm_s,omitempty"`
	Power       *float64 `json:"power_kw,omitempty"`
	CycleTime   *float64 `json:"cycle_time_s,omitempty"`
}

// ApplyTo merges the overrides into a current reading, field by field.
func (o Overrides) ApplyTo(current models.SensorReading) models.SensorReading {
	r := current
	if o.Temperature != nil {
		r.TemperatureC = *o.Temperature
	}
	if o.Vibration != nil {
		r.VibrationMMS = *o.Vibration
	}
	if o.Power != nil {
		r.PowerKW = *o.Power
	}
	if o.CycleTime != nil {
		r.CycleTimeS = *o.CycleTime
	}
	return r
}

// StepStatus classifies the outcome of one cascade step.
type StepStatus string

const (
	StepOK StepStatus = "ok"
	// StepDegraded means the step failed but the cascade continued; the
	// caller gets the result plus a warning (best-effort telemetry).
	StepDegraded StepStatus = "degraded"
	StepFailed   StepStatus = "failed"
)

// StepResult reports one cascade step, so the continue-past-telemetry-
// failure / abort-on-patch-failure policy is an explicit value rather than
// control flow buried in error handling.
type StepResult struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Err    error      `json:"-"`
}

// ApplyResult is the post-cascade state of the affected machine, its line,
// and the factory, plus warnings from degraded best-effort steps.
type ApplyResult struct {
	Machine  models.Machine `json:"machine"`
	Line     models.Line    `json:"line"`
	Factory  models.Factory `json:"factory"`
	Warnings []StepResult   `json:"warnings,omitempty"`
}

// ResetResult is the post-reset factory and line state.
type ResetResult struct {
	Factory       models.Factory `json:"factory"`
	Lines         []models.Line  `json:"lines"`
	MachinesReset int            `json:"machines_reset"`
}

// SeedResult reports what a dataset seed created.
type SeedResult struct {
	EntitiesCreated      int `json:"entities_created"`
	RelationshipsCreated int `json:"relationships_created"`
	TelemetryRows        int `json:"telemetry_rows"`
}

// Cascade is the three-level recomputation triggered by any single machine
// state change: machine derived fields, then the owning line's aggregates,
// then the factory aggregate.
//
// Concurrent invocations against the same machine or line are not
// coordinated: the strong-consistency implementation keeps each invocation
// internally consistent via its transaction but concurrent cascades are
// last-write-wins, and the eventual-consistency implementation gives no
// ordering guarantee at all. This is an accepted limitation of the demo;
// there is no optimistic concurrency control.
type Cascade interface {
	// ApplyReading applies sensor overrides to one machine and cascades
	// the recomputation upward. Returns apperrors.ErrNotFound for an
	// unknown machine id, with no observable side effect.
	ApplyReading(ctx context.Context, machineID string, ov Overrides) (*ApplyResult, error)

	// Reset restores machines to their most recent non-injected reading
	// and deletes injected telemetry. An empty machineID resets the whole
	// fleet; a specific unknown id returns apperrors.ErrNotFound.
	Reset(ctx context.Context, machineID string) (*ResetResult, error)

	// SeedFromDataset reloads the store from a historical dataset. It is
	// idempotent: prior state is cleared before loading.
	SeedFromDataset(ctx context.Context, rows []dataset.Row) (*SeedResult, error)
}

// StateReader serves the boundary layer's read endpoints from whichever
// backend is active.
type StateReader interface {
	Factory(ctx context.Context) (*models.Factory, error)
	Lines(ctx context.Context) ([]models.Line, error)
	Machines(ctx context.Context) ([]models.Machine, error)
	Machine(ctx context.Context, machineID string) (*models.Machine, error)
	RecentTelemetry(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error)
}

func riskScores(machines []models.Machine) []float64 {
	risks := make([]float64, 0, len(machines))
	for i := range machines {
		risks = append(risks, machines[i].RiskScore)
	}
	return risks
}

func lineRiskScores(lines []models.Line) []float64 {
	risks := make([]float64, 0, len(lines))
	for i := range lines {
		risks = append(risks, lines[i].RiskScore)
	}
	return risks
}
