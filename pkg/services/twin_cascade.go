package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/dataset"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/scoring"
	"github.com/xcthomaswagner/production-risk-radar/pkg/twin"
)

// telemetryRetryDelay is the wait before the single telemetry write retry.
const telemetryRetryDelay = time.Second

// TwinStore is the twin-graph capability set the eventual-consistency
// cascade needs. Query methods carry no read-your-writes guarantee.
type TwinStore interface {
	GetMachine(ctx context.Context, machineID string) (*models.Machine, error)
	Machines(ctx context.Context) ([]models.Machine, error)
	MachinesByLine(ctx context.Context, lineID string) ([]models.Machine, error)
	Lines(ctx context.Context) ([]models.Line, error)
	Factory(ctx context.Context) (*models.Factory, error)

	PatchMachine(ctx context.Context, m *models.Machine) error
	PatchLine(ctx context.Context, l *models.Line) error
	PatchFactory(ctx context.Context, overallRisk float64) error

	UpsertFactory(ctx context.Context, f *models.Factory) error
	UpsertLine(ctx context.Context, l *models.Line) error
	UpsertMachine(ctx context.Context, m *models.Machine) error
	UpsertRelationship(ctx context.Context, rel twin.Relationship) error
	DeleteAllTwins(ctx context.Context) error
}

// TelemetrySink is the time-series capability set the cascade needs.
type TelemetrySink interface {
	Insert(ctx context.Context, r *models.TelemetryReading) error
	WriteHistory(ctx context.Context, readings []models.TelemetryReading) error
	LatestBaseline(ctx context.Context, machineID string) (*models.TelemetryReading, error)
	RecentReadings(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error)
	DeleteInjected(ctx context.Context, machineID string) error
	Clear(ctx context.Context) error
}

// twinCascade runs the aggregation cascade against the eventually-consistent
// twin graph plus the time-series store. Steps are sequential patches with
// no rollback: a patch failure leaves earlier patches in place, and the
// graph converges on the next cascade. Telemetry writes are best-effort.
type twinCascade struct {
	twins      TwinStore
	telemetry  TelemetrySink
	logger     *zap.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewTwinCascade creates the eventual-consistency cascade.
func NewTwinCascade(twins TwinStore, telemetry TelemetrySink, logger *zap.Logger) Cascade {
	return &twinCascade{
		twins:      twins,
		telemetry:  telemetry,
		logger:     logger.Named("twin-cascade"),
		now:        time.Now,
		retryDelay: telemetryRetryDelay,
	}
}

var _ Cascade = (*twinCascade)(nil)

func (c *twinCascade) ApplyReading(ctx context.Context, machineID string, ov Overrides) (*ApplyResult, error) {
	// Existence check before any write, so an unknown id has no effect.
	machine, err := c.twins.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	reading := ov.ApplyTo(machine.Reading())
	risk := scoring.RiskScore(reading)

	machine.SetReading(reading)
	machine.RiskScore = risk
	machine.PredictedFailureDate = scoring.PredictedFailureDate(risk, now)
	machine.EnergyDeviationKW = scoring.EnergyDeviation(reading.PowerKW)
	machine.Status = models.StatusForRisk(risk)

	// Line aggregates are computed from a query taken BEFORE the machine
	// patch lands, so the target machine's row in the result is stale.
	// Substituting the just-computed risk keeps the aggregate honest
	// without waiting on the graph to converge.
	line, err := c.computeLine(ctx, machine)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{}

	telemetry := models.TelemetryReading{
		MachineID:            machineID,
		Timestamp:            now,
		TemperatureC:         reading.TemperatureC,
		VibrationMMS:         reading.VibrationMMS,
		PowerKW:              reading.PowerKW,
		CycleTimeS:           reading.CycleTimeS,
		RiskScore:            risk,
		PredictedFailureDate: machine.PredictedFailureDate,
		ThroughputForecast:   line.ThroughputForecast,
		EnergyDeviationKW:    machine.EnergyDeviationKW,
		IsInjected:           true,
	}
	if step := c.insertTelemetry(ctx, &telemetry); step.Status == StepDegraded {
		result.Warnings = append(result.Warnings, step)
	}

	// Patches from here on are not rolled back on failure.
	if err := c.twins.PatchMachine(ctx, machine); err != nil {
		return nil, fmt.Errorf("failed to patch machine %s: %w", machineID, err)
	}
	if err := c.twins.PatchLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to patch line %s: %w", line.LineID, err)
	}

	factory, err := c.computeFactory(ctx, line)
	if err != nil {
		return nil, err
	}
	if err := c.twins.PatchFactory(ctx, factory.OverallRiskScore); err != nil {
		return nil, fmt.Errorf("failed to patch factory: %w", err)
	}

	result.Machine = *machine
	result.Line = *line
	result.Factory = *factory

	c.logger.Info("Applied reading",
		zap.String("machine_id", machineID),
		zap.Float64("risk_score", risk),
		zap.String("status", machine.Status),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// insertTelemetry writes one reading with a single delayed retry. A double
// failure degrades the step instead of aborting the cascade; history can
// miss a row, state cannot.
func (c *twinCascade) insertTelemetry(ctx context.Context, r *models.TelemetryReading) StepResult {
	err := c.telemetry.Insert(ctx, r)
	if err == nil {
		return StepResult{Step: "telemetry", Status: StepOK}
	}

	c.logger.Warn("Telemetry insert failed, retrying once",
		zap.String("machine_id", r.MachineID), zap.Error(err))

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return StepResult{Step: "telemetry", Status: StepDegraded, Err: ctx.Err()}
	}

	if err := c.telemetry.Insert(ctx, r); err != nil {
		c.logger.Warn("Telemetry insert retry failed, continuing without history row",
			zap.String("machine_id", r.MachineID), zap.Error(err))
		return StepResult{Step: "telemetry", Status: StepDegraded, Err: err}
	}
	return StepResult{Step: "telemetry", Status: StepOK}
}

// computeLine builds the owning line's aggregates from a machine query,
// substituting the just-computed risk for the target machine.
func (c *twinCascade) computeLine(ctx context.Context, updated *models.Machine) (*models.Line, error) {
	line, err := c.findLine(ctx, updated.LineID)
	if err != nil {
		return nil, err
	}

	machines, err := c.twins.MachinesByLine(ctx, updated.LineID)
	if err != nil {
		return nil, err
	}

	risks := make([]float64, 0, len(machines))
	seen := false
	for i := range machines {
		if machines[i].MachineID == updated.MachineID {
			risks = append(risks, updated.RiskScore)
			seen = true
			continue
		}
		risks = append(risks, machines[i].RiskScore)
	}
	if !seen {
		risks = append(risks, updated.RiskScore)
	}

	line.RiskScore = scoring.LineRisk(risks)
	line.ThroughputForecast = scoring.LineThroughput(risks, line.Capacity)
	return line, nil
}

// computeFactory builds the factory aggregate from a line query,
// substituting the just-computed risk for the line that was patched.
func (c *twinCascade) computeFactory(ctx context.Context, updated *models.Line) (*models.Factory, error) {
	factory, err := c.twins.Factory(ctx)
	if err != nil {
		return nil, err
	}

	lines, err := c.twins.Lines(ctx)
	if err != nil {
		return nil, err
	}

	risks := make([]float64, 0, len(lines))
	seen := false
	for i := range lines {
		if lines[i].LineID == updated.LineID {
			risks = append(risks, updated.RiskScore)
			seen = true
			continue
		}
		risks = append(risks, lines[i].RiskScore)
	}
	if !seen {
		risks = append(risks, updated.RiskScore)
	}

	factory.OverallRiskScore = scoring.FactoryRisk(risks)
	return factory, nil
}

func (c *twinCascade) findLine(ctx context.Context, lineID string) (*models.Line, error) {
	lines, err := c.twins.Lines(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].LineID == lineID {
			return &lines[i], nil
		}
	}
	// A machine twin without its line twin means a half-seeded graph.
	return &models.Line{
		LineID:   lineID,
		Name:     lineID,
		Capacity: models.DefaultLineCapacity,
		OEE:      models.DefaultOEE,
	}, nil
}

func (c *twinCascade) Reset(ctx context.Context, machineID string) (*ResetResult, error) {
	var targets []models.Machine
	if machineID != "" {
		machine, err := c.twins.GetMachine(ctx, machineID)
		if err != nil {
			return nil, err
		}
		targets = []models.Machine{*machine}
	} else {
		machines, err := c.twins.Machines(ctx)
		if err != nil {
			return nil, err
		}
		targets = machines
	}

	result := &ResetResult{}
	now := c.now()
	for i := range targets {
		machine := &targets[i]
		baseline, err := c.telemetry.LatestBaseline(ctx, machine.MachineID)
		if err != nil {
			return nil, err
		}
		if baseline == nil {
			continue
		}

		reading := baseline.Reading()
		risk := scoring.RiskScore(reading)
		machine.SetReading(reading)
		machine.RiskScore = risk
		machine.PredictedFailureDate = scoring.PredictedFailureDate(risk, now)
		machine.EnergyDeviationKW = scoring.EnergyDeviation(reading.PowerKW)
		machine.Status = models.StatusRunning

		if err := c.twins.PatchMachine(ctx, machine); err != nil {
			return nil, fmt.Errorf("failed to patch machine %s: %w", machine.MachineID, err)
		}
		result.MachinesReset++
	}

	if err := c.telemetry.DeleteInjected(ctx, machineID); err != nil {
		return nil, err
	}

	// Aggregates come from plain re-queries. The queries may not yet see
	// the patches above; the graph converges on the next cascade.
	lines, err := c.twins.Lines(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		machines, err := c.twins.MachinesByLine(ctx, lines[i].LineID)
		if err != nil {
			return nil, err
		}
		risks := riskScores(machines)
		lines[i].RiskScore = scoring.LineRisk(risks)
		lines[i].ThroughputForecast = scoring.LineThroughput(risks, lines[i].Capacity)
		if err := c.twins.PatchLine(ctx, &lines[i]); err != nil {
			return nil, fmt.Errorf("failed to patch line %s: %w", lines[i].LineID, err)
		}
	}

	factory, err := c.twins.Factory(ctx)
	if err != nil {
		return nil, err
	}
	factory.OverallRiskScore = scoring.FactoryRisk(lineRiskScores(lines))
	if err := c.twins.PatchFactory(ctx, factory.OverallRiskScore); err != nil {
		return nil, fmt.Errorf("failed to patch factory: %w", err)
	}

	result.Factory = *factory
	result.Lines = lines

	c.logger.Info("Reset complete",
		zap.String("machine_id", machineID),
		zap.Int("machines_reset", result.MachinesReset))
	return result, nil
}

func (c *twinCascade) SeedFromDataset(ctx context.Context, rows []dataset.Row) (*SeedResult, error) {
	if err := c.twins.DeleteAllTwins(ctx); err != nil {
		return nil, err
	}

	now := c.now()
	factory := models.Factory{FactoryID: models.FactoryID, Name: "Demo Factory"}
	if err := c.twins.UpsertFactory(ctx, &factory); err != nil {
		return nil, err
	}

	result := &SeedResult{EntitiesCreated: 1}

	lineIDs := dataset.LineIDs(rows)
	last := dataset.LastReadingPerMachine(rows)

	lineRisks := make(map[string][]float64, len(lineIDs))
	for _, row := range last {
		risk := scoring.RiskScore(row.Reading)
		lineID := models.LineIDOf(row.MachineID)
		lineRisks[lineID] = append(lineRisks[lineID], risk)
	}

	allLineRisks := make([]float64, 0, len(lineIDs))
	for _, lineID := range lineIDs {
		risks := lineRisks[lineID]
		line := models.Line{
			LineID:             lineID,
			Name:               lineID,
			Capacity:           models.DefaultLineCapacity,
			OEE:                models.DefaultOEE,
			RiskScore:          scoring.LineRisk(risks),
			ThroughputForecast: scoring.LineThroughput(risks, models.DefaultLineCapacity),
		}
		if err := c.twins.UpsertLine(ctx, &line); err != nil {
			return nil, err
		}
		result.EntitiesCreated++
		allLineRisks = append(allLineRisks, line.RiskScore)

		rel := twin.Relationship{
			RelationshipID:   fmt.Sprintf("%s-hasLines-%s", models.FactoryID, lineID),
			SourceID:         models.FactoryID,
			TargetID:         lineID,
			RelationshipName: twin.RelHasLines,
		}
		if err := c.twins.UpsertRelationship(ctx, rel); err != nil {
			return nil, err
		}
		result.RelationshipsCreated++
	}

	machineIDs := dataset.MachineIDs(rows)
	for _, id := range machineIDs {
		machine := models.Machine{
			MachineID: id,
			LineID:    models.LineIDOf(id),
			Name:      id,
			Status:    models.StatusRunning,
		}
		if row, ok := last[id]; ok {
			risk := scoring.RiskScore(row.Reading)
			machine.SetReading(row.Reading)
			machine.RiskScore = risk
			machine.PredictedFailureDate = scoring.PredictedFailureDate(risk, now)
			machine.EnergyDeviationKW = scoring.EnergyDeviation(row.Reading.PowerKW)
			machine.Status = models.StatusForRisk(risk)
		}
		if err := c.twins.UpsertMachine(ctx, &machine); err != nil {
			return nil, err
		}
		result.EntitiesCreated++

		lineRel := twin.Relationship{
			RelationshipID:   fmt.Sprintf("%s-hasMachines-%s", machine.LineID, id),
			SourceID:         machine.LineID,
			TargetID:         id,
			RelationshipName: twin.RelHasMachines,
		}
		if err := c.twins.UpsertRelationship(ctx, lineRel); err != nil {
			return nil, err
		}
		partOf := twin.Relationship{
			RelationshipID:   fmt.Sprintf("%s-partOf-%s", id, machine.LineID),
			SourceID:         id,
			TargetID:         machine.LineID,
			RelationshipName: twin.RelPartOf,
		}
		if err := c.twins.UpsertRelationship(ctx, partOf); err != nil {
			return nil, err
		}
		result.RelationshipsCreated += 2
	}

	if err := c.twins.PatchFactory(ctx, scoring.FactoryRisk(allLineRisks)); err != nil {
		return nil, err
	}

	if err := c.telemetry.Clear(ctx); err != nil {
		return nil, err
	}
	history := make([]models.TelemetryReading, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		risk := scoring.RiskScore(row.Reading)
		history = append(history, models.TelemetryReading{
			MachineID:            row.MachineID,
			Timestamp:            row.Timestamp,
			TemperatureC:         row.Reading.TemperatureC,
			VibrationMMS:         row.Reading.VibrationMMS,
			PowerKW:              row.Reading.PowerKW,
			CycleTimeS:           row.Reading.CycleTimeS,
			RiskScore:            risk,
			PredictedFailureDate: scoring.PredictedFailureDate(risk, now),
			ThroughputForecast:   row.LineThroughput,
			EnergyDeviationKW:    scoring.EnergyDeviation(row.Reading.PowerKW),
			IsInjected:           false,
		})
	}
	if err := c.telemetry.WriteHistory(ctx, history); err != nil {
		return nil, err
	}
	result.TelemetryRows = len(history)

	c.logger.Info("Seed complete",
		zap.Int("entities", result.EntitiesCreated),
		zap.Int("relationships", result.RelationshipsCreated),
		zap.Int("telemetry_rows", result.TelemetryRows))
	return result, nil
}
