// Package twin is a REST client for the digital-twin graph store that holds
// the current state of the factory hierarchy. The store exposes per-twin
// get/patch/put/delete, a query endpoint, and relationship management, in
// the style of Azure Digital Twins. Query results carry no freshness
// guarantee immediately after a write; callers that just patched a twin must
// not trust a query to reflect it yet.
package twin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/apperrors"
	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
)

// Twin model identifiers.
const (
	FactoryModel = "dtmi:com:productionriskradar:Factory;1"
	LineModel    = "dtmi:com:productionriskradar:Line;1"
	MachineModel = "dtmi:com:productionriskradar:Machine;1"
)

// Relationship names in the twin graph.
const (
	RelHasLines    = "hasLines"
	RelHasMachines = "hasMachines"
	RelPartOf      = "partOf"
)

// PatchOp is a single JSON-patch operation against a twin document.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Relationship links two twins in the graph.
type Relationship struct {
	RelationshipID   string `json:"$relationshipId"`
	SourceID         string `json:"$sourceId"`
	TargetID         string `json:"$targetId"`
	RelationshipName string `json:"$relationshipName"`
}

type metadata struct {
	Model string `json:"$model"`
}

// document is the wire shape of a twin. Properties of all three entity
// kinds share one struct; unset numeric fields marshal as omitted pointers
// only where the model requires it, which for this fixed schema it does not.
type document struct {
	DTID     string   `json:"$dtId"`
	Metadata metadata `json:"$metadata"`

	Name string `json:"name,omitempty"`

	// Factory
	OverallRiskScore *float64 `json:"overallRiskScore,omitempty"`

	// Line
	LineCapacity       *float64 `json:"lineCapacity,omitempty"`
	OEE                *float64 `json:"oee,omitempty"`
	ThroughputForecast *float64 `json:"throughputForecast,omitempty"`

	// Machine
	Status               string   `json:"status,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	Vibration            *float64 `json:"vibration,omitempty"`
	Power                *float64 `json:"power,omitempty"`
	CycleTime            *float64 `json:"cycleTime,omitempty"`
	PredictedFailureDate string   `json:"predictedFailureDate,omitempty"`
	EnergyDeviation      *float64 `json:"energyDeviation,omitempty"`

	// Shared by Line and Machine
	RiskScore *float64 `json:"riskScore,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Value []document `json:"value"`
}

type relationshipList struct {
	Value []Relationship `json:"value"`
}

// Config holds the twin store endpoint settings.
type Config struct {
	BaseURL    string
	APIVersion string
	Token      string
	Timeout    time.Duration
}

// Client talks to the twin-graph store over REST.
type Client struct {
	http       *resty.Client
	apiVersion string
	logger     *zap.Logger
}

// NewClient creates a twin store client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:       httpClient,
		apiVersion: cfg.APIVersion,
		logger:     logger.Named("twin-client"),
	}
}

func (c *Client) getTwin(ctx context.Context, id string) (*document, error) {
	var doc document
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetResult(&doc).
		Get("/digitaltwins/" + id)
	if err != nil {
		return nil, fmt.Errorf("%w: get twin %s: %v", apperrors.ErrDependency, id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperrors.ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: get twin %s: HTTP %d", apperrors.ErrDependency, id, resp.StatusCode())
	}
	return &doc, nil
}

func (c *Client) patchTwin(ctx context.Context, id string, ops []PatchOp) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(ops).
		Patch("/digitaltwins/" + id)
	if err != nil {
		return fmt.Errorf("%w: patch twin %s: %v", apperrors.ErrDependency, id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return apperrors.ErrNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("%w: patch twin %s: HTTP %d", apperrors.ErrDependency, id, resp.StatusCode())
	}
	return nil
}

func (c *Client) query(ctx context.Context, query string) ([]document, error) {
	var out queryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(queryRequest{Query: query}).
		SetResult(&out).
		Post("/query")
	if err != nil {
		return nil, fmt.Errorf("%w: query twins: %v", apperrors.ErrDependency, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: query twins: HTTP %d", apperrors.ErrDependency, resp.StatusCode())
	}
	return out.Value, nil
}

// GetMachine fetches a machine twin by id.
func (c *Client) GetMachine(ctx context.Context, machineID string) (*models.Machine, error) {
	doc, err := c.getTwin(ctx, machineID)
	if err != nil {
		return nil, err
	}
	m := machineFromDocument(doc)
	return &m, nil
}

// Machines queries all machine twins. The result may not reflect a patch
// issued moments earlier.
func (c *Client) Machines(ctx context.Context) ([]models.Machine, error) {
	docs, err := c.query(ctx, fmt.Sprintf("SELECT * FROM DIGITALTWINS T WHERE IS_OF_MODEL(T, '%s')", MachineModel))
	if err != nil {
		return nil, err
	}
	machines := make([]models.Machine, 0, len(docs))
	for i := range docs {
		machines = append(machines, machineFromDocument(&docs[i]))
	}
	return machines, nil
}

// MachinesByLine queries the machine twins whose ids carry the line prefix.
func (c *Client) MachinesByLine(ctx context.Context, lineID string) ([]models.Machine, error) {
	docs, err := c.query(ctx, fmt.Sprintf(
		"SELECT * FROM DIGITALTWINS T WHERE IS_OF_MODEL(T, '%s') AND STARTSWITH(T.$dtId, '%s-')",
		MachineModel, lineID))
	if err != nil {
		return nil, err
	}
	machines := make([]models.Machine, 0, len(docs))
	for i := range docs {
		machines = append(machines, machineFromDocument(&docs[i]))
	}
	return machines, nil
}

// Lines queries all line twins.
func (c *Client) Lines(ctx context.Context) ([]models.Line, error) {
	docs, err := c.query(ctx, fmt.Sprintf("SELECT * FROM DIGITALTWINS T WHERE IS_OF_MODEL(T, '%s')", LineModel))
	if err != nil {
		return nil, err
	}
	lines := make([]models.Line, 0, len(docs))
	for i := range docs {
		lines = append(lines, lineFromDocument(&docs[i]))
	}
	return lines, nil
}

// Factory fetches the factory twin.
func (c *Client) Factory(ctx context.Context) (*models.Factory, error) {
	doc, err := c.getTwin(ctx, models.FactoryID)
	if err != nil {
		return nil, err
	}
	f := factoryFromDocument(doc)
	return &f, nil
}

// PatchMachine replaces a machine twin's sensor and derived properties.
func (c *Client) PatchMachine(ctx context.Context, m *models.Machine) error {
	ops := []PatchOp{
		{Op: "replace", Path: "/temperature", Value: m.TemperatureC},
		{Op: "replace", Path: "/vibration", Value: m.VibrationMMS},
		{Op: "replace", Path: "/power", Value: m.PowerKW},
		{Op: "replace", Path: "/cycleTime", Value: m.CycleTimeS},
		{Op: "replace", Path: "/riskScore", Value: m.RiskScore},
		{Op: "replace", Path: "/predictedFailureDate", Value: m.PredictedFailureDate.UTC().Format(time.RFC3339)},
		{Op: "replace", Path: "/energyDeviation", Value: m.EnergyDeviationKW},
		{Op: "replace", Path: "/status", Value: m.Status},
	}
	return c.patchTwin(ctx, m.MachineID, ops)
}

// PatchLine replaces a line twin's aggregate properties.
func (c *Client) PatchLine(ctx context.Context, l *models.Line) error {
	ops := []PatchOp{
		{Op: "replace", Path: "/riskScore", Value: l.RiskScore},
		{Op: "replace", Path: "/throughputForecast", Value: l.ThroughputForecast},
	}
	return c.patchTwin(ctx, l.LineID, ops)
}

// PatchFactory replaces the factory twin's overall risk score.
func (c *Client) PatchFactory(ctx context.Context, overallRisk float64) error {
	ops := []PatchOp{
		{Op: "replace", Path: "/overallRiskScore", Value: overallRisk},
	}
	return c.patchTwin(ctx, models.FactoryID, ops)
}

// UpsertFactory creates or replaces the factory twin.
func (c *Client) UpsertFactory(ctx context.Context, f *models.Factory) error {
	return c.putTwin(ctx, f.FactoryID, document{
		DTID:             f.FactoryID,
		Metadata:         metadata{Model: FactoryModel},
		Name:             f.Name,
		OverallRiskScore: ptr(f.OverallRiskScore),
	})
}

// UpsertLine creates or replaces a line twin.
func (c *Client) UpsertLine(ctx context.Context, l *models.Line) error {
	return c.putTwin(ctx, l.LineID, document{
		DTID:               l.LineID,
		Metadata:           metadata{Model: LineModel},
		Name:               l.Name,
		LineCapacity:       ptr(l.Capacity),
		OEE:                ptr(l.OEE),
		RiskScore:          ptr(l.RiskScore),
		ThroughputForecast: ptr(l.ThroughputForecast),
	})
}

// UpsertMachine creates or replaces a machine twin.
func (c *Client) UpsertMachine(ctx context.Context, m *models.Machine) error {
	return c.putTwin(ctx, m.MachineID, document{
		DTID:                 m.MachineID,
		Metadata:             metadata{Model: MachineModel},
		Name:                 m.Name,
		Status:               m.Status,
		Temperature:          ptr(m.TemperatureC),
		Vibration:            ptr(m.VibrationMMS),
		Power:                ptr(m.PowerKW),
		CycleTime:            ptr(m.CycleTimeS),
		RiskScore:            ptr(m.RiskScore),
		PredictedFailureDate: m.PredictedFailureDate.UTC().Format(time.RFC3339),
		EnergyDeviation:      ptr(m.EnergyDeviationKW),
	})
}

func (c *Client) putTwin(ctx context.Context, id string, doc document) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(doc).
		Put("/digitaltwins/" + id)
	if err != nil {
		return fmt.Errorf("%w: upsert twin %s: %v", apperrors.ErrDependency, id, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: upsert twin %s: HTTP %d", apperrors.ErrDependency, id, resp.StatusCode())
	}
	return nil
}

// UpsertRelationship creates or replaces a relationship between two twins.
func (c *Client) UpsertRelationship(ctx context.Context, rel Relationship) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(rel).
		Put(fmt.Sprintf("/digitaltwins/%s/relationships/%s", rel.SourceID, rel.RelationshipID))
	if err != nil {
		return fmt.Errorf("%w: upsert relationship %s: %v", apperrors.ErrDependency, rel.RelationshipID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: upsert relationship %s: HTTP %d", apperrors.ErrDependency, rel.RelationshipID, resp.StatusCode())
	}
	return nil
}

// Relationships lists the outgoing relationships of one twin.
func (c *Client) Relationships(ctx context.Context, twinID string) ([]Relationship, error) {
	var out relationshipList
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetResult(&out).
		Get(fmt.Sprintf("/digitaltwins/%s/relationships", twinID))
	if err != nil {
		return nil, fmt.Errorf("%w: list relationships of %s: %v", apperrors.ErrDependency, twinID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: list relationships of %s: HTTP %d", apperrors.ErrDependency, twinID, resp.StatusCode())
	}
	return out.Value, nil
}

// DeleteAllTwins removes every twin and relationship from the store.
// Relationships are removed first; the store rejects deleting a twin that
// still has edges.
func (c *Client) DeleteAllTwins(ctx context.Context) error {
	docs, err := c.query(ctx, "SELECT * FROM DIGITALTWINS T")
	if err != nil {
		return err
	}

	for i := range docs {
		rels, err := c.Relationships(ctx, docs[i].DTID)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			if err := c.deleteRelationship(ctx, rel.SourceID, rel.RelationshipID); err != nil {
				return err
			}
		}
	}

	for i := range docs {
		if err := c.deleteTwin(ctx, docs[i].DTID); err != nil {
			return err
		}
	}

	c.logger.Info("Deleted all twins", zap.Int("count", len(docs)))
	return nil
}

func (c *Client) deleteTwin(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		Delete("/digitaltwins/" + id)
	if err != nil {
		return fmt.Errorf("%w: delete twin %s: %v", apperrors.ErrDependency, id, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("%w: delete twin %s: HTTP %d", apperrors.ErrDependency, id, resp.StatusCode())
	}
	return nil
}

func (c *Client) deleteRelationship(ctx context.Context, sourceID, relID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		Delete(fmt.Sprintf("/digitaltwins/%s/relationships/%s", sourceID, relID))
	if err != nil {
		return fmt.Errorf("%w: delete relationship %s: %v", apperrors.ErrDependency, relID, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("%w: delete relationship %s: HTTP %d", apperrors.ErrDependency, relID, resp.StatusCode())
	}
	return nil
}

func machineFromDocument(doc *document) models.Machine {
	m := models.Machine{
		MachineID: doc.DTID,
		LineID:    models.LineIDOf(doc.DTID),
		Name:      doc.Name,
		Status:    doc.Status,
	}
	m.TemperatureC = deref(doc.Temperature)
	m.VibrationMMS = deref(doc.Vibration)
	m.PowerKW = deref(doc.Power)
	m.CycleTimeS = deref(doc.CycleTime)
	m.RiskScore = deref(doc.RiskScore)
	m.EnergyDeviationKW = deref(doc.EnergyDeviation)
	if doc.PredictedFailureDate != "" {
		if ts, err := time.Parse(time.RFC3339, doc.PredictedFailureDate); err == nil {
			m.PredictedFailureDate = ts
		}
	}
	return m
}

func lineFromDocument(doc *document) models.Line {
	l := models.Line{
		LineID:   doc.DTID,
		Name:     doc.Name,
		Capacity: models.DefaultLineCapacity,
		OEE:      models.DefaultOEE,
	}
	if doc.LineCapacity != nil {
		l.Capacity = *doc.LineCapacity
	}
	if doc.OEE != nil {
		l.OEE = *doc.OEE
	}
	l.RiskScore = deref(doc.RiskScore)
	l.ThroughputForecast = deref(doc.ThroughputForecast)
	return l
}

func factoryFromDocument(doc *document) models.Factory {
	return models.Factory{
		FactoryID:        doc.DTID,
		Name:             doc.Name,
		OverallRiskScore: deref(doc.OverallRiskScore),
	}
}

func ptr(v float64) *float64 { return &v }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
