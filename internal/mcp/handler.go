package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/registry"
	"github.com/streamfeed/server/internal/sources"
)

// FeedService builds a user's merged feed
type FeedService interface {
	GetFeed(ctx context.Context, userID string) (*models.FeedResponse, error)
}

// Registry is the part of the source registry the tools read
type Registry interface {
	Authenticate(ctx context.Context, token string) (*models.User, models.Role, error)
	ListSources(ctx context.Context, userID string, enabledOnly bool) ([]models.Source, error)
}

// Resolver maps a channel url to its id
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*sources.ResolvedChannel, error)
}

// Handler implements the tools. Every tool that reads user data takes the
// user's read or owner token as an argument.
type Handler struct {
	feed     FeedService
	registry Registry
	resolver Resolver
	logger   *logging.Logger
}

func NewHandler(feed FeedService, reg Registry, resolver Resolver, logger *logging.Logger) *Handler {
	return &Handler{
		feed:     feed,
		registry: reg,
		resolver: resolver,
		logger:   logger,
	}
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type feedArgs struct {
	Token string `json:"token"`
}

type listArgs struct {
	Token       string `json:"token"`
	EnabledOnly bool   `json:"enabled_only"`
}

type resolveArgs struct {
	URL string `json:"url"`
}

// ToolError is a failure reported to the client inside the tool result
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func (h *Handler) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_stream_feed",
			Description: "Get which tracked channels are live, scheduled or recently uploaded, merged across YouTube and Twitch.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"token": {"type": "string", "description": "User read or owner token"}
				},
				"required": ["token"]
			}`),
		},
		{
			Name:        "list_sources",
			Description: "List the channels a user tracks.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"token": {"type": "string", "description": "User read or owner token"},
					"enabled_only": {"type": "boolean", "description": "Only return enabled sources"}
				},
				"required": ["token"]
			}`),
		},
		{
			Name:        "resolve_youtube_channel",
			Description: "Resolve a YouTube channel url (/channel/, /@handle, /c/, /user/) to its channel id.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"}
				},
				"required": ["url"]
			}`),
		},
	}
}

func (h *Handler) Call(ctx context.Context, name string, arguments json.RawMessage) (interface{}, error) {
	switch name {
	case "get_stream_feed":
		var args feedArgs
		if err := decode(arguments, &args); err != nil {
			return nil, err
		}
		userID, err := h.userID(ctx, args.Token)
		if err != nil {
			return nil, err
		}
		return h.feed.GetFeed(ctx, userID)

	case "list_sources":
		var args listArgs
		if err := decode(arguments, &args); err != nil {
			return nil, err
		}
		userID, err := h.userID(ctx, args.Token)
		if err != nil {
			return nil, err
		}
		items, err := h.registry.ListSources(ctx, userID, args.EnabledOnly)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"items": items, "count": len(items)}, nil

	case "resolve_youtube_channel":
		var args resolveArgs
		if err := decode(arguments, &args); err != nil {
			return nil, err
		}
		return h.resolver.Resolve(ctx, args.URL)

	default:
		return nil, &ToolError{Message: "Unknown tool: " + name}
	}
}

func (h *Handler) userID(ctx context.Context, token string) (string, error) {
	user, _, err := h.registry.Authenticate(ctx, token)
	if errors.Is(err, registry.ErrNotFound) {
		return "", &ToolError{Message: "unauthorized"}
	}
	if err != nil {
		h.logger.Error("Token lookup failed", logging.WithField("error", err.Error()))
		return "", err
	}
	return user.ID, nil
}

func decode(arguments json.RawMessage, v interface{}) error {
	if len(arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(arguments, v); err != nil {
		return &ToolError{Message: "Invalid arguments: " + err.Error()}
	}
	return nil
}
