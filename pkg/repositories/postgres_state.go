package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xcthomaswagner/production-risk-radar/pkg/apperrors"
	"github.com/xcthomaswagner/production-risk-radar/pkg/database"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same queries serve both pooled reads and in-transaction cascade steps.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresState implements StateStore over a pgx pool.
type postgresState struct {
	stateQueries
	db *database.DB
}

// stateQueries implements StateTx against any querier.
type stateQueries struct {
	q querier
}

// NewPostgresStateStore creates the strongly-consistent state store.
func NewPostgresStateStore(db *database.DB) StateStore {
	return &postgresState{
		stateQueries: stateQueries{q: db.Pool},
		db:           db,
	}
}

var _ StateStore = (*postgresState)(nil)

// WithinTx runs fn inside a single transaction. Commit is all-or-nothing:
// any error aborts every write fn issued.
func (s *postgresState) WithinTx(ctx context.Context, fn func(tx StateTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDependency, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := fn(&stateQueries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", apperrors.ErrDependency, err)
	}
	return nil
}

const machineColumns = `machine_id, line, name, status, temperature_c, vibration_mm_s,
	power_kw, cycle_time_s, risk_score, predicted_failure_date, energy_deviation_kw`

func scanMachine(row pgx.Row) (*models.Machine, error) {
	var m models.Machine
	var failure *time.Time
	err := row.Scan(&m.MachineID, &m.LineID, &m.Name, &m.Status,
		&m.TemperatureC, &m.VibrationMMS, &m.PowerKW, &m.CycleTimeS,
		&m.RiskScore, &failure, &m.EnergyDeviationKW)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		m.PredictedFailureDate = *failure
	}
	return &m, nil
}

func (s *stateQueries) Machine(ctx context.Context, machineID string) (*models.Machine, error) {
	row := s.q.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM machines WHERE machine_id = $1", machineColumns), machineID)
	m, err := scanMachine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get machine %s: %v", apperrors.ErrDependency, machineID, err)
	}
	return m, nil
}

func (s *stateQueries) Machines(ctx context.Context) ([]models.Machine, error) {
	return s.queryMachines(ctx,
		fmt.Sprintf("SELECT %s FROM machines ORDER BY machine_id", machineColumns))
}

func (s *stateQueries) MachinesByLine(ctx context.Context, lineID string) ([]models.Machine, error) {
	return s.queryMachines(ctx,
		fmt.Sprintf("SELECT %s FROM machines WHERE line = $1 ORDER BY machine_id", machineColumns), lineID)
}

func (s *stateQueries) queryMachines(ctx context.Context, sql string, args ...any) ([]models.Machine, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query machines: %v", apperrors.ErrDependency, err)
	}
	defer rows.Close()

	var machines []models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan machine: %v", apperrors.ErrDependency, err)
		}
		machines = append(machines, *m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: failed to read machines: %v", apperrors.ErrDependency, rows.Err())
	}
	return machines, nil
}

func (s *stateQueries) UpdateMachineState(ctx context.Context, m *models.Machine) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE machines SET
			temperature_c = $1, vibration_mm_s = $2, power_kw = $3, cycle_time_s = $4,
			risk_score = $5, predicted_failure_date = $6, energy_deviation_kw = $7, status = $8
		WHERE machine_id = $9`,
		m.TemperatureC, m.VibrationMMS, m.PowerKW, m.CycleTimeS,
		m.RiskScore, m.PredictedFailureDate, m.EnergyDeviationKW, m.Status, m.MachineID)
	if err != nil {
		return fmt.Errorf("%w: failed to update machine %s: %v", apperrors.ErrDependency, m.MachineID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *stateQueries) Lines(ctx context.Context) ([]models.Line, error) {
	rows, err := s.q.Query(ctx, `
		SELECT line_id, name, line_capacity, risk_score, throughput_forecast, oee
		FROM lines ORDER BY line_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query lines: %v", apperrors.ErrDependency, err)
	}
	defer rows.Close()

	var lines []models.Line
	for rows.Next() {
		var l models.Line
		if err := rows.Scan(&l.LineID, &l.Name, &l.Capacity, &l.RiskScore, &l.ThroughputForecast, &l.OEE); err != nil {
			return nil, fmt.Errorf("%w: failed to scan line: %v", apperrors.ErrDependency, err)
		}
		lines = append(lines, l)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: failed to read lines: %v", apperrors.ErrDependency, rows.Err())
	}
	return lines, nil
}

func (s *stateQueries) Line(ctx context.Context, lineID string) (*models.Line, error) {
	var l models.Line
	err := s.q.QueryRow(ctx, `
		SELECT line_id, name, line_capacity, risk_score, throughput_forecast, oee
		FROM lines WHERE line_id = $1`, lineID).
		Scan(&l.LineID, &l.Name, &l.Capacity, &l.RiskScore, &l.ThroughputForecast, &l.OEE)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get line %s: %v", apperrors.ErrDependency, lineID, err)
	}
	return &l, nil
}

func (s *stateQueries) UpdateLineAggregates(ctx context.Context, lineID string, risk, throughput float64) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE lines SET risk_score = $1, throughput_forecast = $2 WHERE line_id = $3",
		risk, throughput, lineID)
	if err != nil {
		return fmt.Errorf("%w: failed to update line %s: %v", apperrors.ErrDependency, lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *stateQueries) Factory(ctx context.Context) (*models.Factory, error) {
	var f models.Factory
	err := s.q.QueryRow(ctx,
		"SELECT factory_id, name, overall_risk_score FROM factory WHERE factory_id = $1",
		models.FactoryID).
		Scan(&f.FactoryID, &f.Name, &f.OverallRiskScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get factory: %v", apperrors.ErrDependency, err)
	}
	return &f, nil
}

func (s *stateQueries) UpdateFactoryRisk(ctx context.Context, risk float64) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE factory SET overall_risk_score = $1 WHERE factory_id = $2",
		risk, models.FactoryID)
	if err != nil {
		return fmt.Errorf("%w: failed to update factory: %v", apperrors.ErrDependency, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *stateQueries) DeleteAll(ctx context.Context) error {
	// Order matters for foreign keys.
	for _, table := range []string{"telemetry", "audit_log", "machines", "lines", "factory"} {
		if _, err := s.q.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: failed to clear %s: %v", apperrors.ErrDependency, table, err)
		}
	}
	return nil
}

func (s *stateQueries) InsertFactory(ctx context.Context, f *models.Factory) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO factory (factory_id, name, overall_risk_score) VALUES ($1, $2, $3)",
		f.FactoryID, f.Name, f.OverallRiskScore)
	if err != nil {
		return fmt.Errorf("%w: failed to insert factory: %v", apperrors.ErrDependency, err)
	}
	return nil
}

func (s *stateQueries) InsertLine(ctx context.Context, l *models.Line) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO lines (line_id, name, line_capacity, risk_score, throughput_forecast, oee)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.LineID, l.Name, l.Capacity, l.RiskScore, l.ThroughputForecast, l.OEE)
	if err != nil {
		return fmt.Errorf("%w: failed to insert line %s: %v", apperrors.ErrDependency, l.LineID, err)
	}
	return nil
}

func (s *stateQueries) InsertMachine(ctx context.Context, m *models.Machine) error {
	var failure *time.Time
	if !m.PredictedFailureDate.IsZero() {
		failure = &m.PredictedFailureDate
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO machines (machine_id, line, name, status, temperature_c, vibration_mm_s,
			power_kw, cycle_time_s, risk_score, predicted_failure_date, energy_deviation_kw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.MachineID, m.LineID, m.Name, m.Status, m.TemperatureC, m.VibrationMMS,
		m.PowerKW, m.CycleTimeS, m.RiskScore, failure, m.EnergyDeviationKW)
	if err != nil {
		return fmt.Errorf("%w: failed to insert machine %s: %v", apperrors.ErrDependency, m.MachineID, err)
	}
	return nil
}
