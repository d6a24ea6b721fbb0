package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/gateway"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/session"
)

// Handlers implements the control API used by the embedding host.
type Handlers struct {
	gateway  *gateway.Gateway
	catalog  *catalog.Manager
	sessions *session.Registry
	port     int
	log      *logging.Logger
}

// NewHandlers creates the control API handler set.
func NewHandlers(gw *gateway.Gateway, cat *catalog.Manager, sessions *session.Registry, port int, log *logging.Logger) *Handlers {
	return &Handlers{
		gateway:  gw,
		catalog:  cat,
		sessions: sessions,
		port:     port,
		log:      log,
	}
}

// Health reports liveness plus the app inventory, letting the host
// discover a running gateway and its port in one probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"port":   h.port,
		"apps":   h.catalog.Names(),
	})
}

// ListApps returns every registered app descriptor.
func (h *Handlers) ListApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"apps": h.catalog.List(),
	})
}

// OpenSession opens a preview session and returns the URL to load.
func (h *Handlers) OpenSession(c *gin.Context) {
	var req struct {
		App       string          `json:"app" binding:"required"`
		Resource  json.RawMessage `json:"resource"`
		Workspace string          `json:"workspace"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	res, err := h.gateway.Open(req.App, req.Resource, req.Workspace)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrUnknownApp) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": res,
	})
}

// ListSessions returns every open session.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"sessionId": s.ID,
			"app":       s.App,
			"workspace": s.Workspace,
			"url":       s.URL,
			"connected": s.Conn() != nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// CloseSession closes a session. Closing an unknown session succeeds.
func (h *Handlers) CloseSession(c *gin.Context) {
	h.gateway.CloseSession(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SetTheme pushes a theme change to the session's app.
func (h *Handlers) SetTheme(c *gin.Context) {
	var req struct {
		Theme string `json:"theme" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	h.gateway.SendTheme(c.Param("id"), req.Theme)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ExecuteCapability invokes an app capability and waits for its result.
func (h *Handlers) ExecuteCapability(c *gin.Context) {
	var req struct {
		Capability string         `json:"capability" binding:"required"`
		Params     map[string]any `json:"params"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	data, err := h.gateway.Execute(c.Param("id"), req.Capability, req.Params)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, gateway.ErrUnknownSession):
			status = http.StatusNotFound
		case errors.Is(err, gateway.ErrNoConnection):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// StopApp terminates an app's server process.
func (h *Handlers) StopApp(c *gin.Context) {
	if err := h.gateway.StopApp(c.Param("name")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
