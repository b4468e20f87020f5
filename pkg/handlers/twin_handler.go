package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/models"
	"github.com/xcthomaswagner/production-risk-radar/pkg/services"
	"github.com/xcthomaswagner/production-risk-radar/pkg/twin"
)

// TwinHandler serves a twin-graph shaped view of the factory hierarchy.
// The view is assembled from the active backend, so the Postgres backend
// gets the same shape the twin store would return.
type TwinHandler struct {
	reader services.StateReader
	logger *zap.Logger
}

// NewTwinHandler creates a new twin view handler.
func NewTwinHandler(reader services.StateReader, logger *zap.Logger) *TwinHandler {
	return &TwinHandler{
		reader: reader,
		logger: logger,
	}
}

// RegisterRoutes registers the twin handler's routes on the given mux.
func (h *TwinHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/twin", h.GetTwinGraph)
}

type twinLineView struct {
	models.Line
	Machines []models.Machine `json:"machines"`
}

type twinGraphResponse struct {
	Factory       models.Factory      `json:"factory"`
	Lines         []twinLineView      `json:"lines"`
	Relationships []twin.Relationship `json:"relationships"`
}

// GetTwinGraph handles GET /api/twin
func (h *TwinHandler) GetTwinGraph(w http.ResponseWriter, r *http.Request) {
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
	machines, err := h.reader.Machines(r.Context())
	if err != nil {
		h.logger.Error("Failed to list machines", zap.Error(err))
		writeServiceError(w, h.logger, err)
		return
	}

	byLine := make(map[string][]models.Machine, len(lines))
	for _, m := range machines {
		byLine[m.LineID] = append(byLine[m.LineID], m)
	}

	response := twinGraphResponse{
		Factory:       *factory,
		Lines:         make([]twinLineView, 0, len(lines)),
		Relationships: make([]twin.Relationship, 0, len(lines)+len(machines)),
	}
	for _, line := range lines {
		lineMachines := byLine[line.LineID]
		if lineMachines == nil {
			lineMachines = make([]models.Machine, 0)
		}
		response.Lines = append(response.Lines, twinLineView{Line: line, Machines: lineMachines})
		response.Relationships = append(response.Relationships, twin.Relationship{
			RelationshipID:   fmt.Sprintf("%s-hasLines-%s", factory.FactoryID, line.LineID),
			SourceID:         factory.FactoryID,
			TargetID:         line.LineID,
			RelationshipName: twin.RelHasLines,
		})
		for _, m := range lineMachines {
			response.Relationships = append(response.Relationships, twin.Relationship{
				RelationshipID:   fmt.Sprintf("%s-hasMachines-%s", line.LineID, m.MachineID),
				SourceID:         line.LineID,
				TargetID:         m.MachineID,
				RelationshipName: twin.RelHasMachines,
			})
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
