package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/previewd/previewd/internal/catalog"
)

// The bridge endpoints serve apps that cannot hold a WebSocket. Every
// request carries its session id in the sid query parameter; the SDK's
// server-side shims inject it from their environment.

func (h *Handlers) bridgeSID(c *gin.Context) (string, bool) {
	sid := c.Query("sid")
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "missing sid parameter",
		})
		return "", false
	}
	return sid, true
}

// RegisterTools records the capabilities of a poll-reachable app.
func (h *Handlers) RegisterTools(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	var req struct {
		Tools []catalog.Capability `json:"tools" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.gateway.RegisterTools(sid, req.Tools); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetState returns the session's app-pushed state.
func (h *Handlers) GetState(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	state, err := h.gateway.GetState(sid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"state":   state,
	})
}

// SetState merges app-pushed state into the session.
func (h *Handlers) SetState(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	var state map[string]any
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.gateway.SetState(sid, state); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// EmitEvent forwards an app event to protocol listeners.
func (h *Handlers) EmitEvent(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	var req struct {
		Event string         `json:"event" binding:"required"`
		Data  map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.gateway.EmitEvent(sid, req.Event, req.Data); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PendingTools drains queued capability calls for a polling app.
func (h *Handlers) PendingTools(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	calls, err := h.gateway.PendingCalls(sid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"calls":   calls,
	})
}

// ToolResult completes a polled capability call with its result.
func (h *Handlers) ToolResult(c *gin.Context) {
	sid, ok := h.bridgeSID(c)
	if !ok {
		return
	}

	var req struct {
		RequestID string          `json:"requestId" binding:"required"`
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     string          `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	resolved := h.gateway.ResolveTool(sid, req.RequestID, req.Success, req.Data, req.Error)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"resolved": resolved,
	})
}
