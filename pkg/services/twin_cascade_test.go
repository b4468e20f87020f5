package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/apperrors"
	"github.com/xcthomaswagner/production-risk-radar/pkg/dataset"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/scoring"
	"github.com/xcthomaswagner/production-risk-radar/pkg/twin"
)

// mockTwins is a deliberately stale twin store: queries always serve the
// snapshot captured at setup and never reflect patches, mimicking the real
// store's lack of read-your-writes.
type mockTwins struct {
	machines map[string]models.Machine
	lines    map[string]models.Line
	factory  models.Factory

	patchedMachines []models.Machine
	patchedLines    []models.Line
	patchedFactory  []float64

	upsertedTwins int
	relationships []twin.Relationship
	deletedAll    bool

	failPatchLine bool
}

func newMockTwins() *mockTwins {
	return &mockTwins{
		machines: make(map[string]models.Machine),
		lines:    make(map[string]models.Line),
		factory:  models.Factory{FactoryID: models.FactoryID, Name: "Demo Factory"},
	}
}

var _ TwinStore = (*mockTwins)(nil)

func (m *mockTwins) GetMachine(_ context.Context, id string) (*models.Machine, error) {
	machine, ok := m.machines[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &machine, nil
}

func (m *mockTwins) Machines(context.Context) ([]models.Machine, error) {
	out := make([]models.Machine, 0, len(m.machines))
	for _, machine := range m.machines {
		out = append(out, machine)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

func (m *mockTwins) MachinesByLine(ctx context.Context, lineID string) ([]models.Machine, error) {
	all, _ := m.Machines(ctx)
	var out []models.Machine
	for _, machine := range all {
		if machine.LineID == lineID {
			out = append(out, machine)
		}
	}
	return out, nil
}

func (m *mockTwins) Lines(context.Context) ([]models.Line, error) {
	out := make([]models.Line, 0, len(m.lines))
	for _, line := range m.lines {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineID < out[j].LineID })
	return out, nil
}

func (m *mockTwins) Factory(context.Context) (*models.Factory, error) {
	f := m.factory
	return &f, nil
}

func (m *mockTwins) PatchMachine(_ context.Context, machine *models.Machine) error {
	m.patchedMachines = append(m.patchedMachines, *machine)
	return nil
}

func (m *mockTwins) PatchLine(_ context.Context, line *models.Line) error {
	if m.failPatchLine {
		return errors.New("line patch failed")
	}
	m.patchedLines = append(m.patchedLines, *line)
	return nil
}

func (m *mockTwins) PatchFactory(_ context.Context, risk float64) error {
	m.patchedFactory = append(m.patchedFactory, risk)
	return nil
}

func (m *mockTwins) UpsertFactory(_ context.Context, f *models.Factory) error {
	m.factory = *f
	m.upsertedTwins++
	return nil
}

func (m *mockTwins) UpsertLine(_ context.Context, l *models.Line) error {
	m.lines[l.LineID] = *l
	m.upsertedTwins++
	return nil
}

func (m *mockTwins) UpsertMachine(_ context.Context, machine *models.Machine) error {
	m.machines[machine.MachineID] = *machine
	m.upsertedTwins++
	return nil
}

func (m *mockTwins) UpsertRelationship(_ context.Context, rel twin.Relationship) error {
	m.relationships = append(m.relationships, rel)
	return nil
}

func (m *mockTwins) DeleteAllTwins(context.Context) error {
	m.machines = make(map[string]models.Machine)
	m.lines = make(map[string]models.Line)
	m.relationships = nil
	m.deletedAll = true
	return nil
}

// mockSink counts insert attempts and fails the first failInserts of them.
type mockSink struct {
	inserted       []models.TelemetryReading
	insertAttempts int
	failInserts    int

	baselines map[string]*models.TelemetryReading
	history   []models.TelemetryReading
	deleted   []string
	cleared   bool
}

func newMockSink() *mockSink {
	return &mockSink{baselines: make(map[string]*models.TelemetryReading)}
}

var _ TelemetrySink = (*mockSink)(nil)

func (s *mockSink) Insert(_ context.Context, r *models.TelemetryReading) error {
	s.insertAttempts++
	if s.insertAttempts <= s.failInserts {
		return errors.New("timeseries write failed")
	}
	s.inserted = append(s.inserted, *r)
	return nil
}

func (s *mockSink) WriteHistory(_ context.Context, readings []models.TelemetryReading) error {
	s.history = append(s.history, readings...)
	return nil
}

func (s *mockSink) LatestBaseline(_ context.Context, id string) (*models.TelemetryReading, error) {
	r, ok := s.baselines[id]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *mockSink) RecentReadings(_ context.Context, id string, limit int) ([]models.TelemetryReading, error) {
	var out []models.TelemetryReading
	for i := len(s.inserted) - 1; i >= 0 && len(out) < limit; i-- {
		if s.inserted[i].MachineID == id {
			out = append(out, s.inserted[i])
		}
	}
	return out, nil
}

func (s *mockSink) DeleteInjected(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *mockSink) Clear(context.Context) error {
	s.cleared = true
	return nil
}

func seededTwins() *mockTwins {
	twins := newMockTwins()
	for _, lineID := range []string{"L1", "L2"} {
		twins.lines[lineID] = models.Line{
			LineID:             lineID,
			Name:               lineID,
			Capacity:           models.DefaultLineCapacity,
			ThroughputForecast: models.DefaultLineCapacity,
			OEE:                models.DefaultOEE,
			RiskScore:          0.1,
		}
		for _, suffix := range []string{"M1", "M2"} {
			id := lineID + "-" + suffix
			m := models.Machine{
				MachineID: id,
				LineID:    lineID,
				Name:      id,
				Status:    models.StatusRunning,
				RiskScore: 0.1,
			}
			m.SetReading(baselineReading())
			twins.machines[id] = m
		}
	}
	twins.factory.OverallRiskScore = 0.1
	return twins
}

func newTestTwinCascade(twins *mockTwins, sink *mockSink) *twinCascade {
	return &twinCascade{
		twins:      twins,
		telemetry:  sink,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
		retryDelay: 0,
	}
}

func TestTwinCascadeApplyReadingOverridesStaleQueries(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	cascade := newTestTwinCascade(twins, sink)

	result, err := cascade.ApplyReading(context.Background(), "L1-M1", Overrides{
		Temperature: floatPtr(98),
		Vibration:   floatPtr(4.8),
	})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	newRisk := result.Machine.RiskScore
	assert.Greater(t, newRisk, models.HighRiskThreshold)
	assert.Equal(t, models.StatusWarning, result.Machine.Status)

	// The query served the stale 0.1 for L1-M1; the aggregate must use the
	// just-computed risk instead.
	require.Len(t, twins.patchedLines, 1)
	wantLine := scoring.LineRisk([]float64{newRisk, 0.1})
	assert.InDelta(t, wantLine, twins.patchedLines[0].RiskScore, 1e-9)
	assert.Greater(t, twins.patchedLines[0].RiskScore, 0.1)

	// Same override at the factory level: the stale line query still says
	// 0.1 for L1, the computed line risk is substituted.
	require.Len(t, twins.patchedFactory, 1)
	wantFactory := scoring.FactoryRisk([]float64{wantLine, 0.1})
	assert.InDelta(t, wantFactory, twins.patchedFactory[0], 1e-9)

	require.Len(t, twins.patchedMachines, 1)
	assert.Equal(t, 98.0, twins.patchedMachines[0].TemperatureC)

	require.Len(t, sink.inserted, 1)
	assert.True(t, sink.inserted[0].IsInjected)
}

func TestTwinCascadeApplyReadingUnknownMachine(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	cascade := newTestTwinCascade(twins, sink)

	_, err := cascade.ApplyReading(context.Background(), "L3-M1", Overrides{Temperature: floatPtr(98)})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Empty(t, twins.patchedMachines)
	assert.Empty(t, twins.patchedLines)
	assert.Empty(t, twins.patchedFactory)
	assert.Zero(t, sink.insertAttempts)
}

func TestTwinCascadeTelemetryRetrySucceeds(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	sink.failInserts = 1
	cascade := newTestTwinCascade(twins, sink)

	result, err := cascade.ApplyReading(context.Background(), "L1-M1", Overrides{Temperature: floatPtr(98)})
	require.NoError(t, err)

	assert.Equal(t, 2, sink.insertAttempts)
	assert.Len(t, sink.inserted, 1)
	assert.Empty(t, result.Warnings)
}

func TestTwinCascadeTelemetryDoubleFailureDegrades(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	sink.failInserts = 2
	cascade := newTestTwinCascade(twins, sink)

	result, err := cascade.ApplyReading(context.Background(), "L1-M1", Overrides{Temperature: floatPtr(98)})
	require.NoError(t, err, "telemetry loss must not abort the cascade")

	assert.Equal(t, 2, sink.insertAttempts, "exactly one retry")
	assert.Empty(t, sink.inserted)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "telemetry", result.Warnings[0].Step)
	assert.Equal(t, StepDegraded, result.Warnings[0].Status)

	// State patches all proceeded.
	assert.Len(t, twins.patchedMachines, 1)
	assert.Len(t, twins.patchedLines, 1)
	assert.Len(t, twins.patchedFactory, 1)
}

func TestTwinCascadePatchFailureLeavesNoRollback(t *testing.T) {
	twins := seededTwins()
	twins.failPatchLine = true
	sink := newMockSink()
	cascade := newTestTwinCascade(twins, sink)

	_, err := cascade.ApplyReading(context.Background(), "L1-M1", Overrides{Temperature: floatPtr(98)})
	require.Error(t, err)

	// The machine patch landed before the line patch failed and stays.
	assert.Len(t, twins.patchedMachines, 1)
	assert.Empty(t, twins.patchedFactory, "cascade stops at the failing step")
}

func TestTwinCascadeReset(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	reading := baselineReading()
	sink.baselines["L1-M1"] = &models.TelemetryReading{
		MachineID:    "L1-M1",
		Timestamp:    time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC),
		TemperatureC: reading.TemperatureC, VibrationMMS: reading.VibrationMMS,
		PowerKW: reading.PowerKW, CycleTimeS: reading.CycleTimeS,
	}
	cascade := newTestTwinCascade(twins, sink)

	result, err := cascade.Reset(context.Background(), "L1-M1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.MachinesReset)

	require.Len(t, twins.patchedMachines, 1)
	patched := twins.patchedMachines[0]
	assert.Equal(t, reading.TemperatureC, patched.TemperatureC)
	assert.Equal(t, models.StatusRunning, patched.Status)
	assert.InDelta(t, scoring.RiskScore(reading), patched.RiskScore, 1e-9)

	assert.Equal(t, []string{"L1-M1"}, sink.deleted,
		"injected-row delete must be scoped to the reset machine")

	// Aggregates were re-patched from (possibly stale) queries.
	assert.Len(t, twins.patchedLines, 2)
	assert.Len(t, twins.patchedFactory, 1)
}

func TestTwinCascadeResetSkipsMachinesWithoutBaseline(t *testing.T) {
	twins := seededTwins()
	sink := newMockSink()
	cascade := newTestTwinCascade(twins, sink)

	result, err := cascade.Reset(context.Background(), "")
	require.NoError(t, err)

	assert.Zero(t, result.MachinesReset)
	assert.Empty(t, twins.patchedMachines)
	assert.Equal(t, []string{""}, sink.deleted, "fleet-wide injected cleanup still runs")
}

func TestTwinCascadeSeedFromDataset(t *testing.T) {
	twins := newMockTwins()
	sink := newMockSink()
	cascade := newTestTwinCascade(twins, sink)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	rows := []dataset.Row{
		{Timestamp: base, LineID: "L1", MachineID: "L1-M1",
			Reading: baselineReading(), LineThroughput: 450},
		{Timestamp: base, LineID: "L1", MachineID: "L1-M2",
			Reading: baselineReading(), LineThroughput: 450},
		{Timestamp: base, LineID: "L2", MachineID: "L2-M1",
			Reading: baselineReading(), LineThroughput: 452},
	}

	result, err := cascade.SeedFromDataset(context.Background(), rows)
	require.NoError(t, err)

	assert.True(t, twins.deletedAll)
	assert.Equal(t, 6, result.EntitiesCreated, "factory + 2 lines + 3 machines")
	assert.Equal(t, 8, result.RelationshipsCreated, "2 hasLines + 3 hasMachines + 3 partOf")
	assert.Equal(t, 3, result.TelemetryRows)

	assert.True(t, sink.cleared)
	assert.Len(t, sink.history, 3)
	for _, r := range sink.history {
		assert.False(t, r.IsInjected)
	}

	byName := map[string]int{}
	for _, rel := range twins.relationships {
		byName[rel.RelationshipName]++
	}
	assert.Equal(t, 2, byName[twin.RelHasLines])
	assert.Equal(t, 3, byName[twin.RelHasMachines])
	assert.Equal(t, 3, byName[twin.RelPartOf])

	// Machine twins carry state derived from their last dataset row.
	m, ok := twins.machines["L1-M1"]
	require.True(t, ok)
	assert.InDelta(t, scoring.RiskScore(baselineReading()), m.RiskScore, 1e-9)
	assert.Equal(t, models.StatusRunning, m.Status)
}
