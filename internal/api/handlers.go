package api

import (
	"encoding/json"
	"net/http"

	"doc-collab/internal/collab"
)

// Handler bundles the HTTP surface of the sync server. Everything beyond
// the websocket endpoint is read-only operational plumbing; document and
// user management live in a separate service.
type Handler struct {
	collabHandler *collab.Handler
	registry      *collab.Registry
}

// NewHandler creates the API handler with its dependencies injected.
func NewHandler(collabHandler *collab.Handler, registry *collab.Registry) *Handler {
	return &Handler{
		collabHandler: collabHandler,
		registry:      registry,
	}
}

// HandleCollabWebSocket upgrades to the collaboration protocol.
func (h *Handler) HandleCollabWebSocket(w http.ResponseWriter, r *http.Request) {
	h.collabHandler.HandleCollabConnection(w, r)
}

// GetCollabStats reports live room and session counts.
func (h *Handler) GetCollabStats(w http.ResponseWriter, r *http.Request) {
	rooms, sessions := h.registry.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"rooms":    rooms,
		"sessions": sessions,
	})
}
