package repositories

import (
	"context"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// StateTx is the capability set the aggregation cascade needs from the
// strongly-consistent store: entity reads/writes, append-only telemetry,
// scoped injected-row deletion, and the audit log. Inside WithinTx every
// method sees the transaction's own uncommitted writes, which is what lets
// the cascade re-read machine risks "freshly" after updating one of them.
type StateTx interface {
	Machine(ctx context.Context, machineID string) (*models.Machine, error)
	Machines(ctx context.Context) ([]models.Machine, error)
	MachinesByLine(ctx context.Context, lineID string) ([]models.Machine, error)
	UpdateMachineState(ctx context.Context, m *models.Machine) error

	Lines(ctx context.Context) ([]models.Line, error)
	Line(ctx context.Context, lineID string) (*models.Line, error)
	UpdateLineAggregates(ctx context.Context, lineID string, risk, throughput float64) error

	Factory(ctx context.Context) (*models.Factory, error)
	UpdateFactoryRisk(ctx context.Context, risk float64) error

	InsertTelemetry(ctx context.Context, r *models.TelemetryReading) error
	LatestBaseline(ctx context.Context, machineID string) (*models.TelemetryReading, error)
	RecentTelemetry(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error)
	DeleteInjected(ctx context.Context, machineID string) (int64, error)

	InsertAudit(ctx context.Context, entry *models.AuditEntry) error

	// Seed support.
	DeleteAll(ctx context.Context) error
	InsertFactory(ctx context.Context, f *models.Factory) error
	InsertLine(ctx context.Context, l *models.Line) error
	InsertMachine(ctx context.Context, m *models.Machine) error
}

// StateStore is a StateTx whose methods run on the shared pool, plus a way
// to run a function within one all-or-nothing transaction. Any error from
// fn rolls back every write issued through the transactional StateTx.
type StateStore interface {
	StateTx
	WithinTx(ctx context.Context, fn func(tx StateTx) error) error
}
