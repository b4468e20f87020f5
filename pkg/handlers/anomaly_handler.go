package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/services"
)

// AnomalyHandler handles anomaly injection and reset requests.
type AnomalyHandler struct {
	cascade services.Cascade
	logger  *zap.Logger
}

// NewAnomalyHandler creates a new anomaly handler.
func NewAnomalyHandler(cascade services.Cascade, logger *zap.Logger) *AnomalyHandler {
	return &AnomalyHandler{
		cascade: cascade,
		logger:  logger,
	}
}

// RegisterRoutes registers the anomaly handler's routes on the given mux.
func (h *AnomalyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/anomaly/inject", h.Inject)
	mux.HandleFunc("POST /api/anomaly/reset", h.Reset)
}

type injectRequest struct {
	MachineID   string   `json:"machine_id"`
	Temperature *float64 `json:"temperature_c,omitempty"`
	Vibration   *float64 `json:"vibration_mm_s,omitempty"`
	Power       *float64 `json:"power_kw,omitempty"`
	CycleTime   *float64 `json:"cycle_time_s,omitempty"`
}

// validate rejects malformed ids and out-of-range sensor values before any
// state access, so a bad request has zero observable effect.
func (r *injectRequest) validate() error {
	if !models.ValidMachineID(r.MachineID) {
		return fmt.Errorf("invalid machine id %q", r.MachineID)
	}
	for field, value := range map[string]*float64{
		"temperature_c":  r.Temperature,
		"vibration_mm_s": r.Vibration,
		"power_kw":       r.Power,
		"cycle_time_s":   r.CycleTime,
	} {
		if value == nil {
			continue
		}
		bound := models.SensorBounds[field]
		if *value < bound.Min || *value > bound.Max {
			return fmt.Errorf("%s value %g out of range [%g, %g]", field, *value, bound.Min, bound.Max)
		}
	}
	return nil
}

// Inject handles POST /api/anomaly/inject
func (h *AnomalyHandler) Inject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := req.validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.cascade.ApplyReading(r.Context(), req.MachineID, services.Overrides{
		Temperature: req.Temperature,
		Vibration:   req.Vibration,
		Power:       req.Power,
		CycleTime:   req.CycleTime,
	})
	if err != nil {
		h.logger.Error("Failed to inject anomaly", zap.String("machine_id", req.MachineID), zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}

	response := ApiResponse{Success: true, Data: result}
	if len(result.Warnings) > 0 {
		response.Warnings = result.Warnings
		response.Message = "Anomaly applied; telemetry history may be incomplete"
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type resetRequest struct {
	MachineID string `json:"machine_id,omitempty"`
}

// Reset handles POST /api/anomaly/reset
// An absent machine_id resets the whole fleet.
func (h *AnomalyHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	if req.MachineID != "" && !models.ValidMachineID(req.MachineID) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("invalid machine id %q", req.MachineID)); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.cascade.Reset(r.Context(), req.MachineID)
	if err != nil {
		h.logger.Error("Failed to reset", zap.String("machine_id", req.MachineID), zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
