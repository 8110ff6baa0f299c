package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/maintenance"
)

// AdminAPI handles admin-only endpoints
type AdminAPI struct {
	flag           *maintenance.Flag
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

// NewAdminAPI creates a new admin API handler
func NewAdminAPI(flag *maintenance.Flag, authMiddleware *auth.Middleware, logger *logging.Logger) *AdminAPI {
	return &AdminAPI{
		flag:           flag,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

// RegisterRoutes registers admin routes
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	if api.flag == nil || api.authMiddleware == nil {
		api.logger.Error("Admin API routes not registered: flag or authMiddleware is nil")
		return
	}

	mux.HandleFunc("/api/admin/maintenance", api.authMiddleware.RequireAdmin(api.handleMaintenance))
}

// handleMaintenance handles GET and POST /api/admin/maintenance
func (api *AdminAPI) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		on, err := api.flag.Enabled(ctx)
		if err != nil {
			api.logger.Error("Failed to read maintenance flag", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, codeInternal, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "maintenance": on})

	case http.MethodPost:
		var req struct {
			Enabled *flexBool `json:"enabled"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "enabled is required")
			return
		}

		on := bool(*req.Enabled)
		if err := api.flag.Set(ctx, on); err != nil {
			api.logger.Error("Failed to set maintenance flag", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, codeInternal, "")
			return
		}

		api.logger.Warn("Maintenance mode changed", logging.WithField("maintenance", on))
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "maintenance": on})

	default:
		writeError(w, http.StatusMethodNotAllowed, codeMethod, "")
	}
}
