package models

// FactoryID is the id of the singleton factory entity.
const FactoryID = "demo-factory"

// Factory is the root of the three-level hierarchy. OverallRiskScore is the
// mean of all line risk scores.
type Factory struct {
	FactoryID        string  `json:"factory_id"`
	Name             string  `json:"name"`
	OverallRiskScore float64 `json:"overall_risk_score"`
}
