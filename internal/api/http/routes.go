package http

import (
	"github.com/gin-gonic/gin"
)

// Register mounts the control API, the bridge, the SDK route, and the
// static fallback onto the engine. Control and bridge routes live under
// double-underscore prefixes so they can never collide with app names.
func (h *Handlers) Register(r *gin.Engine, static *StaticRouter, ws gin.HandlerFunc, extra ...gin.HandlerFunc) {
	ctl := r.Group("/", extra...)
	{
		ctl.GET("/__health", h.Health)
		ctl.GET("/__apps", h.ListApps)
		ctl.POST("/__apps/:name/stop", h.StopApp)
		ctl.POST("/__open", h.OpenSession)
		ctl.GET("/__sessions", h.ListSessions)
		ctl.DELETE("/__sessions/:id", h.CloseSession)
		ctl.POST("/__sessions/:id/theme", h.SetTheme)
		ctl.POST("/__sessions/:id/execute", h.ExecuteCapability)

		api := ctl.Group("/__api")
		{
			api.POST("/tools", h.RegisterTools)
			api.GET("/tools/pending", h.PendingTools)
			api.POST("/tool-result", h.ToolResult)
			api.GET("/state", h.GetState)
			api.POST("/state", h.SetState)
			api.POST("/event", h.EmitEvent)
		}
	}

	r.GET("/__ws", ws)
	r.GET("/__sdk/*filepath", static.ServeSDK)
	r.NoRoute(static.Handle)
}
