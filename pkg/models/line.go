package models

// Line defaults shared by provisioning and the scoring engine.
const (
	DefaultLineCapacity = 480.0
	DefaultOEE          = 0.85
)

// Line is the current state of a production line. RiskScore is the mean of
// its machines' risk scores; ThroughputForecast is derived from the blended
// line risk and never exceeds Capacity.
type Line struct {
	LineID             string  `json:"line_id"`
	Name               string  `json:"name"`
	Capacity           float64 `json:"line_capacity"`
	RiskScore          float64 `json:"risk_score"`
	ThroughputForecast float64 `json:"throughput_forecast"`
	OEE                float64 `json:"oee"`
}
