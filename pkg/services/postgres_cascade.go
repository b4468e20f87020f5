package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/dataset"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/repositories"
	"github.com/xcthomaswagner/production-risk-radar/pkg/scoring"
)

// postgresCascade runs the aggregation cascade against the strongly-
// consistent Postgres store. Every invocation spans exactly one
// transaction; a failure at any step rolls back all of it.
type postgresCascade struct {
	store  repositories.StateStore
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresCascade creates the strong-consistency cascade.
func NewPostgresCascade(store repositories.StateStore, logger *zap.Logger) Cascade {
	return &postgresCascade{
		store:  store,
		logger: logger.Named("postgres-cascade"),
		now:    time.Now,
	}
}

var _ Cascade = (*postgresCascade)(nil)

func (c *postgresCascade) ApplyReading(ctx context.Context, machineID string, ov Overrides) (*ApplyResult, error) {
	var result ApplyResult

	err := c.store.WithinTx(ctx, func(tx repositories.StateTx) error {
		machine, err := tx.Machine(ctx, machineID)
		if err != nil {
			return err
		}

		now := c.now()
		reading := ov.ApplyTo(machine.Reading())
		risk := scoring.RiskScore(reading)

		machine.SetReading(reading)
		machine.RiskScore = risk
		machine.PredictedFailureDate = scoring.PredictedFailureDate(risk, now)
		machine.EnergyDeviationKW = scoring.EnergyDeviation(reading.PowerKW)
		machine.Status = models.StatusForRisk(risk)

		if err := tx.UpdateMachineState(ctx, machine); err != nil {
			return err
		}

		// Line aggregates from a fresh in-transaction read, which already
		// includes the machine row just written.
		line, err := c.recomputeLine(ctx, tx, machine.LineID)
		if err != nil {
			return err
		}

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
		if err := tx.InsertTelemetry(ctx, &telemetry); err != nil {
			return err
		}

		factory, err := c.recomputeFactory(ctx, tx)
		if err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]any{
			"temperature_c":  reading.TemperatureC,
			"vibration_mm_s": reading.VibrationMMS,
			"power_kw":       reading.PowerKW,
			"cycle_time_s":   reading.CycleTimeS,
			"risk_score":     risk,
		})
		audit := models.AuditEntry{
			Timestamp: now,
			Action:    models.AuditActionInject,
			MachineID: &machineID,
			Details:   string(details),
		}
		if err := tx.InsertAudit(ctx, &audit); err != nil {
			return err
		}

		result = ApplyResult{Machine: *machine, Line: *line, Factory: *factory}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Applied reading",
		zap.String("machine_id", machineID),
		zap.Float64("risk_score", result.Machine.RiskScore),
		zap.String("status", result.Machine.Status))
	return &result, nil
}

func (c *postgresCascade) Reset(ctx context.Context, machineID string) (*ResetResult, error) {
	var result ResetResult

	err := c.store.WithinTx(ctx, func(tx repositories.StateTx) error {
		var targets []models.Machine
		if machineID != "" {
			machine, err := tx.Machine(ctx, machineID)
			if err != nil {
				return err
			}
			targets = []models.Machine{*machine}
		} else {
			machines, err := tx.Machines(ctx)
			if err != nil {
				return err
			}
			targets = machines
		}

		now := c.now()
		for i := range targets {
			machine := &targets[i]
			baseline, err := tx.LatestBaseline(ctx, machine.MachineID)
			if err != nil {
				return err
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

			if err := tx.UpdateMachineState(ctx, machine); err != nil {
				return err
			}
			result.MachinesReset++
		}

		if _, err := tx.DeleteInjected(ctx, machineID); err != nil {
			return err
		}

		lines, err := tx.Lines(ctx)
		if err != nil {
			return err
		}
		for i := range lines {
			line, err := c.recomputeLine(ctx, tx, lines[i].LineID)
			if err != nil {
				return err
			}
			lines[i] = *line
		}

		factory, err := c.recomputeFactory(ctx, tx)
		if err != nil {
			return err
		}

		details := "Reset all machines"
		var auditMachine *string
		if machineID != "" {
			details = fmt.Sprintf("Reset %s", machineID)
			auditMachine = &machineID
		}
		audit := models.AuditEntry{
			Timestamp: now,
			Action:    models.AuditActionReset,
			MachineID: auditMachine,
			Details:   details,
		}
		if err := tx.InsertAudit(ctx, &audit); err != nil {
			return err
		}

		result.Factory = *factory
		result.Lines = lines
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Reset complete",
		zap.String("machine_id", machineID),
		zap.Int("machines_reset", result.MachinesReset))
	return &result, nil
}

func (c *postgresCascade) SeedFromDataset(ctx context.Context, rows []dataset.Row) (*SeedResult, error) {
	var result SeedResult

	err := c.store.WithinTx(ctx, func(tx repositories.StateTx) error {
		if err := tx.DeleteAll(ctx); err != nil {
			return err
		}

		now := c.now()
		factory := models.Factory{FactoryID: models.FactoryID, Name: "Demo Factory"}
		if err := tx.InsertFactory(ctx, &factory); err != nil {
			return err
		}

		lineIDs := dataset.LineIDs(rows)
		for _, lineID := range lineIDs {
			line := models.Line{
				LineID:             lineID,
				Name:               lineID,
				Capacity:           models.DefaultLineCapacity,
				ThroughputForecast: models.DefaultLineCapacity,
				OEE:                models.DefaultOEE,
			}
			if err := tx.InsertLine(ctx, &line); err != nil {
				return err
			}
		}

		machineIDs := dataset.MachineIDs(rows)
		for _, id := range machineIDs {
			machine := models.Machine{
				MachineID: id,
				LineID:    models.LineIDOf(id),
				Name:      id,
				Status:    models.StatusRunning,
			}
			if err := tx.InsertMachine(ctx, &machine); err != nil {
				return err
			}
		}

		// Full baseline history, derived fields recomputed at insert time.
		for i := range rows {
			row := &rows[i]
			risk := scoring.RiskScore(row.Reading)
			telemetry := models.TelemetryReading{
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
			}
			if err := tx.InsertTelemetry(ctx, &telemetry); err != nil {
				return err
			}
		}

		// Each machine takes its final dataset row as current state.
		last := dataset.LastReadingPerMachine(rows)
		for _, id := range machineIDs {
			row, ok := last[id]
			if !ok {
				continue
			}
			risk := scoring.RiskScore(row.Reading)
			machine := models.Machine{
				MachineID:            id,
				LineID:               models.LineIDOf(id),
				Name:                 id,
				Status:               models.StatusForRisk(risk),
				RiskScore:            risk,
				PredictedFailureDate: scoring.PredictedFailureDate(risk, now),
				EnergyDeviationKW:    scoring.EnergyDeviation(row.Reading.PowerKW),
			}
			machine.SetReading(row.Reading)
			if err := tx.UpdateMachineState(ctx, &machine); err != nil {
				return err
			}
		}

		for _, lineID := range lineIDs {
			if _, err := c.recomputeLine(ctx, tx, lineID); err != nil {
				return err
			}
		}
		if _, err := c.recomputeFactory(ctx, tx); err != nil {
			return err
		}

		audit := models.AuditEntry{
			Timestamp: now,
			Action:    models.AuditActionSeed,
			Details:   fmt.Sprintf("Seeded from dataset with %d telemetry rows", len(rows)),
		}
		if err := tx.InsertAudit(ctx, &audit); err != nil {
			return err
		}

		result = SeedResult{
			EntitiesCreated:      1 + len(lineIDs) + len(machineIDs),
			RelationshipsCreated: len(lineIDs) + len(machineIDs),
			TelemetryRows:        len(rows),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Seed complete",
		zap.Int("entities", result.EntitiesCreated),
		zap.Int("telemetry_rows", result.TelemetryRows))
	return &result, nil
}

// recomputeLine refreshes one line's aggregates from all its machines'
// current risk scores and persists them.
func (c *postgresCascade) recomputeLine(ctx context.Context, tx repositories.StateTx, lineID string) (*models.Line, error) {
	line, err := tx.Line(ctx, lineID)
	if err != nil {
		return nil, err
	}
	machines, err := tx.MachinesByLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	risks := riskScores(machines)
	line.RiskScore = scoring.LineRisk(risks)
	line.ThroughputForecast = scoring.LineThroughput(risks, line.Capacity)

	if err := tx.UpdateLineAggregates(ctx, lineID, line.RiskScore, line.ThroughputForecast); err != nil {
		return nil, err
	}
	return line, nil
}

// recomputeFactory refreshes the factory aggregate from all lines' current
// risk scores and persists it.
func (c *postgresCascade) recomputeFactory(ctx context.Context, tx repositories.StateTx) (*models.Factory, error) {
	lines, err := tx.Lines(ctx)
	if err != nil {
		return nil, err
	}
	factory, err := tx.Factory(ctx)
	if err != nil {
		return nil, err
	}

	factory.OverallRiskScore = scoring.FactoryRisk(lineRiskScores(lines))
	if err := tx.UpdateFactoryRisk(ctx, factory.OverallRiskScore); err != nil {
		return nil, err
	}
	return factory, nil
}
