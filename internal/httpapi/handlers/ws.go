package handlers

import (
	"net/http"

	"github.com/coreflow/backbone/internal/httpapi/middlewares"
	"github.com/coreflow/backbone/internal/ws/hub"
	"github.com/gin-gonic/gin"
)

// WSHandler upgrades an already-authenticated request to a WebSocket
// connection. The route it's mounted on must run
// middlewares.AuthMiddleware.RequireAuthWebSocket() first.
type WSHandler struct {
	hub *hub.Hub
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// GET /ws
func (h *WSHandler) Upgrade(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		RespondError(ctx, http.StatusUnauthorized, "unauthorized", "Missing authenticated user", nil)
		return
	}

	if err := h.hub.Upgrade(ctx.Writer, ctx.Request, userID); err != nil {
		RespondInternal(ctx, "Could not upgrade connection")
	}
}
