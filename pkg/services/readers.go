package services

import (
	"context"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// twinStateReader serves reads from the twin graph and the time-series
// store. The Postgres backend needs no such adapter; its state store
// already satisfies StateReader directly.
type twinStateReader struct {
	twins     TwinStore
	telemetry TelemetrySink
}

// NewTwinStateReader creates a StateReader over the eventual backend.
func NewTwinStateReader(twins TwinStore, telemetry TelemetrySink) StateReader {
	return &twinStateReader{twins: twins, telemetry: telemetry}
}

var _ StateReader = (*twinStateReader)(nil)

func (r *twinStateReader) Factory(ctx context.Context) (*models.Factory, error) {
	return r.twins.Factory(ctx)
}

func (r *twinStateReader) Lines(ctx context.Context) ([]models.Line, error) {
	return r.twins.Lines(ctx)
}

func (r *twinStateReader) Machines(ctx context.Context) ([]models.Machine, error) {
	return r.twins.Machines(ctx)
}

func (r *twinStateReader) Machine(ctx context.Context, machineID string) (*models.Machine, error) {
	return r.twins.GetMachine(ctx, machineID)
}

func (r *twinStateReader) RecentTelemetry(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error) {
	return r.telemetry.RecentReadings(ctx, machineID, limit)
}
