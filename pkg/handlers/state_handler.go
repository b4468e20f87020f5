package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/services"
)

// StateHandler serves read endpoints for the factory hierarchy and
// telemetry history from the active backend.
type StateHandler struct {
	reader services.StateReader
	logger *zap.Logger
}

// NewStateHandler creates a new state handler.
func NewStateHandler(reader services.StateReader, logger *zap.Logger) *StateHandler {
	return &StateHandler{
		reader: reader,
		logger: logger,
	}
}

// RegisterRoutes registers the state handler's routes on the given mux.
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/factory", h.GetFactory)
	mux.HandleFunc("GET /api/machines", h.ListMachines)
	mux.HandleFunc("GET /api/machines/{machine_id}", h.GetMachine)
	mux.HandleFunc("GET /api/telemetry", h.GetTelemetry)
}

type factoryResponse struct {
	Factory models.Factory `json:"factory"`
	Lines   []models.Line  `json:"lines"`
}

// GetFactory handles GET /api/factory
func (h *StateHandler) GetFactory(w http.ResponseWriter, r *http.Request) {
	factory, err := h.reader.Factory(r.Context())
	if err != nil {
		h.logger.Error("Failed to get factory", zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}
	lines, err := h.reader.Lines(r.Context())
	if err != nil {
		h.logger.Error("Failed to list lines", zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}
	if lines == nil {
		lines = make([]models.Line, 0)
	}

	if err := WriteJSON(w, http.StatusOK, factoryResponse{Factory: *factory, Lines: lines}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListMachines handles GET /api/machines
func (h *StateHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.reader.Machines(r.Context())
	if err != nil {
		h.logger.Error("Failed to list machines", zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}
	if machines == nil {
		machines = make([]models.Machine, 0)
	}

	if err := WriteJSON(w, http.StatusOK, machines); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type machineResponse struct {
	Machine   models.Machine            `json:"machine"`
	Telemetry []models.TelemetryReading `json:"telemetry"`
}

// GetMachine handles GET /api/machines/{machine_id}
// The response carries the machine's recent telemetry, newest first.
func (h *StateHandler) GetMachine(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	if !models.ValidMachineID(machineID) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("invalid machine id %q", machineID)); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	machine, err := h.reader.Machine(r.Context(), machineID)
	if err != nil {
		h.logger.Error("Failed to get machine", zap.String("machine_id", machineID), zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}

	telemetry, err := h.reader.RecentTelemetry(r.Context(), machineID, models.DefaultTelemetryLimit)
	if err != nil {
		h.logger.Error("Failed to get telemetry", zap.String("machine_id", machineID), zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}
	if telemetry == nil {
		telemetry = make([]models.TelemetryReading, 0)
	}

	if err := WriteJSON(w, http.StatusOK, machineResponse{Machine: *machine, Telemetry: telemetry}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetTelemetry handles GET /api/telemetry?machine_id=L1-M1&limit=100
func (h *StateHandler) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	if !models.ValidMachineID(machineID) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("invalid machine id %q", machineID)); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	limit := models.DefaultTelemetryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request",
				fmt.Sprintf("invalid limit %q", raw)); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = parsed
	}
	if limit > models.MaxTelemetryLimit {
		limit = models.MaxTelemetryLimit
	}

	telemetry, err := h.reader.RecentTelemetry(r.Context(), machineID, limit)
	if err != nil {
		h.logger.Error("Failed to get telemetry", zap.String("machine_id", machineID), zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}
	if telemetry == nil {
		telemetry = make([]models.TelemetryReading, 0)
	}

	if err := WriteJSON(w, http.StatusOK, telemetry); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
