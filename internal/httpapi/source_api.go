package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/registry"
)

// SourceAPI handles user bootstrap and the source registry endpoints
type SourceAPI struct {
	registry       *registry.Service
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

// NewSourceAPI creates a new source API handler
func NewSourceAPI(reg *registry.Service, authMiddleware *auth.Middleware, logger *logging.Logger) *SourceAPI {
	return &SourceAPI{
		registry:       reg,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

// RegisterRoutes registers bootstrap and source routes
func (api *SourceAPI) RegisterRoutes(mux *http.ServeMux) {
	if api.registry == nil || api.authMiddleware == nil {
		api.logger.Error("Source API routes not registered: registry or authMiddleware is nil")
		return
	}

	mux.HandleFunc("/api/bootstrap", api.handleBootstrap)
	mux.HandleFunc("/api/sources/list", api.authMiddleware.RequireUser(api.handleList))
	mux.HandleFunc("/api/sources/upsert", api.authMiddleware.RequireOwner(api.handleUpsert))
	mux.HandleFunc("/api/sources/toggle", api.authMiddleware.RequireOwner(api.handleToggle))
}

// handleBootstrap handles POST /api/bootstrap
func (api *SourceAPI) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	user, err := api.registry.Bootstrap(ctx)
	if err != nil {
		api.logger.Error("Failed to bootstrap user", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"userId":     user.ID,
		"ownerToken": user.OwnerToken,
		"readToken":  user.ReadToken,
	})
}

// handleList handles GET /api/sources/list
func (api *SourceAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	enabledOnly := parseBoolParam(r.URL.Query().Get("enabled"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	items, err := api.registry.ListSources(ctx, auth.GetUserID(r.Context()), enabledOnly)
	if err != nil {
		api.logger.Error("Failed to list sources", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"items": items,
		"meta": map[string]interface{}{
			"count":       len(items),
			"enabledOnly": enabledOnly,
		},
	})
}

type upsertRequest struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	Handle      string    `json:"handle"`
	DisplayName *string   `json:"display_name"`
	URL         *string   `json:"url"`
	Enabled     *flexBool `json:"enabled"`
}

// handleUpsert handles POST /api/sources/upsert
func (api *SourceAPI) handleUpsert(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req upsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	in := registry.UpsertInput{
		ID:          req.ID,
		Platform:    req.Platform,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		URL:         req.URL,
	}
	if req.Enabled != nil {
		enabled := bool(*req.Enabled)
		in.Enabled = &enabled
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	src, action, err := api.registry.UpsertSource(ctx, auth.GetUserID(r.Context()), in)
	if err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, codeBadRequest, verr.Message)
			return
		}
		api.logger.Error("Failed to upsert source", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"action": action,
		"item":   src,
	})
}

type toggleRequest struct {
	ID      string    `json:"id"`
	Enabled *flexBool `json:"enabled"`
}

// handleToggle handles POST /api/sources/toggle
func (api *SourceAPI) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.ID == "" || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "id and enabled are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	src, err := api.registry.SetEnabled(ctx, auth.GetUserID(r.Context()), req.ID, bool(*req.Enabled))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"ok":    false,
				"error": codeNotFound,
				"id":    req.ID,
			})
			return
		}
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, codeBadRequest, verr.Message)
			return
		}
		api.logger.Error("Failed to toggle source", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"id":      src.ID,
		"enabled": src.Enabled,
	})
}
