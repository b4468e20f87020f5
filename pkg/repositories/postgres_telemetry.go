package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xcthomaswagner/production-risk-radar/pkg/apperrors"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

const telemetryColumns = `id, machine_id, timestamp, temperature_c, vibration_mm_s, power_kw,
	cycle_time_s, risk_score, predicted_failure_date, throughput_forecast, energy_deviation_kw, is_injected`

func scanTelemetry(row pgx.Row) (*models.TelemetryReading, error) {
	var r models.TelemetryReading
	err := row.Scan(&r.ID, &r.MachineID, &r.Timestamp, &r.TemperatureC, &r.VibrationMMS,
		&r.PowerKW, &r.CycleTimeS, &r.RiskScore, &r.PredictedFailureDate,
		&r.ThroughputForecast, &r.EnergyDeviationKW, &r.IsInjected)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *stateQueries) InsertTelemetry(ctx context.Context, r *models.TelemetryReading) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO telemetry (machine_id, timestamp, temperature_c, vibration_mm_s, power_kw,
			cycle_time_s, risk_score, predicted_failure_date, throughput_forecast,
			energy_deviation_kw, is_injected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		r.MachineID, r.Timestamp, r.TemperatureC, r.VibrationMMS, r.PowerKW,
		r.CycleTimeS, r.RiskScore, r.PredictedFailureDate, r.ThroughputForecast,
		r.EnergyDeviationKW, r.IsInjected).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to insert telemetry for %s: %v", apperrors.ErrDependency, r.MachineID, err)
	}
	return nil
}

// LatestBaseline returns the most recent non-injected reading for a
// machine, or nil when the machine has no baseline history.
func (s *stateQueries) LatestBaseline(ctx context.Context, machineID string) (*models.TelemetryReading, error) {
	row := s.q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM telemetry
		WHERE machine_id = $1 AND is_injected = FALSE
		ORDER BY timestamp DESC LIMIT 1`, telemetryColumns), machineID)
	r, err := scanTelemetry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get latest baseline for %s: %v", apperrors.ErrDependency, machineID, err)
	}
	return r, nil
}

func (s *stateQueries) RecentTelemetry(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error) {
	rows, err := s.q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM telemetry
		WHERE machine_id = $1
		ORDER BY timestamp DESC LIMIT $2`, telemetryColumns), machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query telemetry for %s: %v", apperrors.ErrDependency, machineID, err)
	}
	defer rows.Close()

	var readings []models.TelemetryReading
	for rows.Next() {
		r, err := scanTelemetry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan telemetry: %v", apperrors.ErrDependency, err)
		}
		readings = append(readings, *r)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: failed to read telemetry: %v", apperrors.ErrDependency, rows.Err())
	}
	return readings, nil
}

// DeleteInjected removes injected telemetry rows, scoped to one machine
// when machineID is non-empty. Baseline rows are never touched.
func (s *stateQueries) DeleteInjected(ctx context.Context, machineID string) (int64, error) {
	var (
		tag string
		err error
	)
	if machineID != "" {
		res, execErr := s.q.Exec(ctx,
			"DELETE FROM telemetry WHERE machine_id = $1 AND is_injected = TRUE", machineID)
		if execErr == nil {
			return res.RowsAffected(), nil
		}
		err, tag = execErr, machineID
	} else {
		res, execErr := s.q.Exec(ctx, "DELETE FROM telemetry WHERE is_injected = TRUE")
		if execErr == nil {
			return res.RowsAffected(), nil
		}
		err, tag = execErr, "all"
	}
	return 0, fmt.Errorf("%w: failed to delete injected telemetry (%s): %v", apperrors.ErrDependency, tag, err)
}

func (s *stateQueries) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.q.Exec(ctx,
		"INSERT INTO audit_log (id, timestamp, action, machine_id, details) VALUES ($1, $2, $3, $4, $5)",
		entry.ID, entry.Timestamp, entry.Action, entry.MachineID, entry.Details)
	if err != nil {
		return fmt.Errorf("%w: failed to insert audit entry: %v", apperrors.ErrDependency, err)
	}
	return nil
}
