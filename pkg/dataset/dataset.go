// Package dataset loads the demo telemetry dataset: timestamp-ordered
// sensor rows per machine, used by the seed operation of both backends.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// Row is one historical telemetry record for a machine.
type Row struct {
	Timestamp      time.Time
	LineID         string
	MachineID      string
	Reading        models.SensorReading
	LineThroughput float64
}

// Column headers the dataset must carry. Extra columns are ignored.
var requiredColumns = []string{
	"Timestamp", "Line", "Machine",
	"Temperature_C", "Vibration_mm_s", "Power_kW", "CycleTime_s",
	"LineThroughputForecast_units_per_day",
}

var timestampLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// Load parses dataset rows from r. Rows must reference valid machine ids
// and stay timestamp-ordered per machine, matching the seed contract.
func Load(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("dataset is missing column %q", name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset row %d: %w", line, err)
		}

		row, err := parseRow(record, col)
		if err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadFile parses dataset rows from a CSV file on disk.
func LoadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func parseRow(record []string, col map[string]int) (Row, error) {
	machineID := record[col["Machine"]]
	if !models.ValidMachineID(machineID) {
		return Row{}, fmt.Errorf("invalid machine id %q", machineID)
	}

	ts, err := parseTimestamp(record[col["Timestamp"]])
	if err != nil {
		return Row{}, err
	}

	fields := map[string]*float64{}
	reading := models.SensorReading{}
	throughput := 0.0
	fields["Temperature_C"] = &reading.TemperatureC
	fields["Vibration_mm_s"] = &reading.VibrationMMS
	fields["Power_kW"] = &reading.PowerKW
	fields["CycleTime_s"] = &reading.CycleTimeS
	fields["LineThroughputForecast_units_per_day"] = &throughput
	for name, dst := range fields {
		v, err := strconv.ParseFloat(record[col[name]], 64)
		if err != nil {
			return Row{}, fmt.Errorf("invalid %s value %q", name, record[col[name]])
		}
		*dst = v
	}

	return Row{
		Timestamp:      ts,
		LineID:         models.LineIDOf(machineID),
		MachineID:      machineID,
		Reading:        reading,
		LineThroughput: throughput,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// LastReadingPerMachine returns the final (latest-timestamp) row per
// machine. Rows are expected timestamp-ordered per machine, so the last
// occurrence wins, matching the dataset contract.
func LastReadingPerMachine(rows []Row) map[string]Row {
	last := make(map[string]Row)
	for _, row := range rows {
		last[row.MachineID] = row
	}
	return last
}

// MachineIDs returns the sorted-unique machine ids present in rows.
func MachineIDs(rows []Row) []string {
	return uniqueSorted(rows, func(r Row) string { return r.MachineID })
}

// LineIDs returns the sorted-unique line ids present in rows.
func LineIDs(rows []Row) []string {
	return uniqueSorted(rows, func(r Row) string { return r.LineID })
}

func uniqueSorted(rows []Row, key func(Row) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
