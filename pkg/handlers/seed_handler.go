package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/dataset"
	"github.com/xcthomaswagner/production-risk-radar/pkg/services"
)

// SeedHandler reloads the active store from the demo dataset.
type SeedHandler struct {
	cascade     services.Cascade
	datasetPath string
	logger      *zap.Logger
}

// NewSeedHandler creates a new seed handler.
func NewSeedHandler(cascade services.Cascade, datasetPath string, logger *zap.Logger) *SeedHandler {
	return &SeedHandler{
		cascade:     cascade,
		datasetPath: datasetPath,
		logger:      logger,
	}
}

// RegisterRoutes registers the seed handler's routes on the given mux.
func (h *SeedHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/seed", h.Seed)
}

// Seed handles POST /api/seed
// Clears the store and reloads it from the dataset file. Idempotent.
func (h *SeedHandler) Seed(w http.ResponseWriter, r *http.Request) {
	rows, err := dataset.LoadFile(h.datasetPath)
	if err != nil {
		h.logger.Error("Failed to load dataset", zap.String("path", h.datasetPath), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "dataset_load_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.cascade.SeedFromDataset(r.Context(), rows)
	if err != nil {
		h.logger.Error("Failed to seed", zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    result,
		Message: "Store seeded from dataset",
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
