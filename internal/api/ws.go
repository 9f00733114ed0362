package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/websocket"
)

// WSHandler upgrades connections into the live-update hub.
type WSHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewWSHandler builds a WSHandler.
func NewWSHandler(hub *websocket.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// Serve subscribes the caller to the topics named in the "topic" query
// parameters (for example ?topic=job:<id>) and streams updates until the
// connection closes.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		ErrBadRequest(w, "at least one topic query parameter is required")
		return
	}

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("ws upgrade", zap.Error(err))
		return
	}
	client.Run()
}
