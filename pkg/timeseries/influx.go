// Package timeseries persists telemetry history in InfluxDB. The history is
// append-only; the only deletions are the injected-row cleanup on reset and
// the full clear before a reseed.
package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/apperrors"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

const measurement = "readings"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Client wraps the InfluxDB v2 client for telemetry reads and writes.
type Client struct {
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	queryAPI  api.QueryAPI
	deleteAPI api.DeleteAPI
	org       string
	bucket    string
	logger    *zap.Logger
}

// NewClient creates a telemetry history client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Client{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		deleteAPI: client.DeleteAPI(),
		org:       cfg.Org,
		bucket:    cfg.Bucket,
		logger:    logger.Named("timeseries"),
	}
}

// Close shuts down the underlying InfluxDB client.
func (c *Client) Close() {
	c.client.Close()
}

func readingPoint(r *models.TelemetryReading) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"machine_id":  r.MachineID,
			"line":        models.LineIDOf(r.MachineID),
			"is_injected": fmt.Sprintf("%t", r.IsInjected),
		},
		map[string]any{
			"temperature_c":          r.TemperatureC,
			"vibration_mm_s":         r.VibrationMMS,
			"power_kw":               r.PowerKW,
			"cycle_time_s":           r.CycleTimeS,
			"risk_score":             r.RiskScore,
			"predicted_failure_date": r.PredictedFailureDate.UTC().Format(time.RFC3339),
			"throughput_forecast":    r.ThroughputForecast,
			"energy_deviation_kw":    r.EnergyDeviationKW,
		},
		r.Timestamp,
	)
}

// Insert appends one telemetry reading.
func (c *Client) Insert(ctx context.Context, r *models.TelemetryReading) error {
	if err := c.writeAPI.WritePoint(ctx, readingPoint(r)); err != nil {
		return fmt.Errorf("%w: insert telemetry for %s: %v", apperrors.ErrDependency, r.MachineID, err)
	}
	return nil
}

// WriteHistory bulk-appends telemetry readings during seeding.
func (c *Client) WriteHistory(ctx context.Context, readings []models.TelemetryReading) error {
	points := make([]*write.Point, 0, len(readings))
	for i := range readings {
		points = append(points, readingPoint(&readings[i]))
	}
	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: write telemetry history: %v", apperrors.ErrDependency, err)
	}
	c.logger.Info("Wrote telemetry history", zap.Int("rows", len(points)))
	return nil
}

// LatestBaseline returns the most recent non-injected reading for a
// machine, or nil when the machine has no baseline history.
func (c *Client) LatestBaseline(ctx context.Context, machineID string) (*models.TelemetryReading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.machine_id == %q and r.is_injected == "false")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`,
		c.bucket, measurement, machineID)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: query latest baseline for %s: %v", apperrors.ErrDependency, machineID, err)
	}
	defer result.Close()

	if !result.Next() {
		if result.Err() != nil {
			return nil, fmt.Errorf("%w: read latest baseline for %s: %v", apperrors.ErrDependency, machineID, result.Err())
		}
		return nil, nil
	}

	record := result.Record()
	reading := &models.TelemetryReading{
		MachineID:          machineID,
		Timestamp:          record.Time(),
		TemperatureC:       floatValue(record.ValueByKey("temperature_c")),
		VibrationMMS:       floatValue(record.ValueByKey("vibration_mm_s")),
		PowerKW:            floatValue(record.ValueByKey("power_kw")),
		CycleTimeS:         floatValue(record.ValueByKey("cycle_time_s")),
		RiskScore:          floatValue(record.ValueByKey("risk_score")),
		ThroughputForecast: floatValue(record.ValueByKey("throughput_forecast")),
		EnergyDeviationKW:  floatValue(record.ValueByKey("energy_deviation_kw")),
	}
	if s, ok := record.ValueByKey("predicted_failure_date").(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			reading.PredictedFailureDate = ts
		}
	}
	return reading, nil
}

// recentReadingsFlux builds the history query for one machine. The
// is_injected tag splits a machine's rows into separate tables, and sort
// and limit operate per table, so the pivot is followed by group() to merge
// everything into one table before ordering and truncating.
func recentReadingsFlux(bucket, machineID string, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.machine_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		bucket, measurement, machineID, limit)
}

// RecentReadings returns up to limit readings for a machine, newest first.
func (c *Client) RecentReadings(ctx context.Context, machineID string, limit int) ([]models.TelemetryReading, error) {
	result, err := c.queryAPI.Query(ctx, recentReadingsFlux(c.bucket, machineID, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: query telemetry for %s: %v", apperrors.ErrDependency, machineID, err)
	}
	defer result.Close()

	var readings []models.TelemetryReading
	for result.Next() {
		record := result.Record()
		r := models.TelemetryReading{
			MachineID:          machineID,
			Timestamp:          record.Time(),
			TemperatureC:       floatValue(record.ValueByKey("temperature_c")),
			VibrationMMS:       floatValue(record.ValueByKey("vibration_mm_s")),
			PowerKW:            floatValue(record.ValueByKey("power_kw")),
			CycleTimeS:         floatValue(record.ValueByKey("cycle_time_s")),
			RiskScore:          floatValue(record.ValueByKey("risk_score")),
			ThroughputForecast: floatValue(record.ValueByKey("throughput_forecast")),
			EnergyDeviationKW:  floatValue(record.ValueByKey("energy_deviation_kw")),
			IsInjected:         record.ValueByKey("is_injected") == "true",
		}
		if s, ok := record.ValueByKey("predicted_failure_date").(string); ok {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				r.PredictedFailureDate = ts
			}
		}
		readings = append(readings, r)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: read telemetry for %s: %v", apperrors.ErrDependency, machineID, result.Err())
	}
	return readings, nil
}

// DeleteInjected removes injected rows, scoped to one machine when
// machineID is non-empty or across the whole fleet when it is empty.
// Baseline rows are never touched.
func (c *Client) DeleteInjected(ctx context.Context, machineID string) error {
	predicate := fmt.Sprintf(`_measurement=%q AND is_injected="true"`, measurement)
	if machineID != "" {
		predicate += fmt.Sprintf(` AND machine_id=%q`, machineID)
	}
	if err := c.delete(ctx, predicate); err != nil {
		return err
	}
	c.logger.Info("Deleted injected telemetry", zap.String("machine_id", machineID))
	return nil
}

// Clear removes all telemetry rows. Used only before a reseed.
func (c *Client) Clear(ctx context.Context) error {
	return c.delete(ctx, fmt.Sprintf("_measurement=%q", measurement))
}

func (c *Client) delete(ctx context.Context, predicate string) error {
	start := time.Unix(0, 0)
	stop := time.Now().Add(time.Hour)
	if err := c.deleteAPI.DeleteWithName(ctx, c.org, c.bucket, start, stop, predicate); err != nil {
		return fmt.Errorf("%w: delete telemetry (%s): %v", apperrors.ErrDependency, predicate, err)
	}
	return nil
}

func floatValue(v any) float64 {
	f, _ := v.(float64)
	return f
}
