package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Apps are embedded iframes loaded from arbitrary origins.
		return true
	},
}

// HandleWS upgrades the protocol WebSocket and runs the connection's
// read loop. A connection is unbound until it delivers app:ready with a
// known session id; unbound messages other than app:ready and the file
// intercepts are dropped.
func (g *Gateway) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(ws)
	var boundSID string

	defer func() {
		if boundSID != "" {
			g.sessions.Unbind(boundSID, conn)
			g.log.Info("Connection detached", zap.String("session", boundSID))
		}
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frame: drop it, keep the connection.
			g.log.Warn("Dropping malformed protocol frame", zap.Error(err))
			continue
		}

		g.countMessage(env.Type, "in")
		g.dispatch(conn, &boundSID, env)
	}
}

func (g *Gateway) dispatch(conn *wsConn, boundSID *string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAppReady:
		g.handleReady(conn, boundSID, env)

	case protocol.TypeAppFileRead:
		g.handleFileRead(conn, env)

	case protocol.TypeAppFileWrite, protocol.TypeAppSave:
		g.handleFileWrite(conn, env)
		// app:save additionally reaches listeners so the host can react
		// to user-initiated saves.
		if env.Type == protocol.TypeAppSave && *boundSID != "" {
			g.forward(*boundSID, env.Type, env.Payload)
		}

	case protocol.TypeAppExecuteResult:
		var payload protocol.ExecuteResultPayload
		if err := env.DecodePayload(&payload); err != nil {
			g.log.Warn("Bad execute result", zap.Error(err))
			return
		}
		if !g.pending.Resolve(payload.RequestID, payload.Success, payload.Data, payload.Error) {
			g.log.Debug("Unmatched execute result",
				zap.String("requestId", payload.RequestID),
			)
		}

	default:
		// No session to attribute the message to: ignore.
		if *boundSID == "" {
			return
		}
		g.forward(*boundSID, env.Type, env.Payload)
	}
}

// handleReady binds the connection to its session, applies any
// capability override, and flushes a queued resource as backend:open.
func (g *Gateway) handleReady(conn *wsConn, boundSID *string, env protocol.Envelope) {
	var payload protocol.ReadyPayload
	if err := env.DecodePayload(&payload); err != nil {
		g.log.Warn("Bad ready payload", zap.Error(err))
		return
	}

	sess, ok := g.sessions.Get(payload.SessionID)
	if !ok {
		g.log.Warn("Ready for unknown session", zap.String("session", payload.SessionID))
		return
	}

	g.sessions.Bind(sess.ID, conn)
	*boundSID = sess.ID

	if len(payload.Capabilities) > 0 {
		caps := make([]catalog.Capability, len(payload.Capabilities))
		for i, c := range payload.Capabilities {
			caps[i] = catalog.Capability{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  c.Parameters,
			}
		}
		sess.SetCapabilities(caps)
	}

	g.log.Info("Connection bound",
		zap.String("session", sess.ID),
		zap.String("app", sess.App),
		zap.Int("capabilities", len(payload.Capabilities)),
	)

	if resource, ok := sess.TakeQueued(); ok {
		env := protocol.MustEnvelope(protocol.TypeBackendOpen, protocol.OpenPayload{Resource: resource})
		if err := conn.SendEnvelope(env); err != nil {
			g.log.Warn("Failed to flush queued resource",
				zap.String("session", sess.ID),
				zap.Error(err),
			)
			return
		}
		g.countMessage(env.Type, "out")
	}
}

// handleFileRead answers app:file-read from the local filesystem.
func (g *Gateway) handleFileRead(conn *wsConn, env protocol.Envelope) {
	var payload protocol.FileReadPayload
	if err := env.DecodePayload(&payload); err != nil {
		g.respond(conn, env.ID, false, nil, "invalid file-read payload")
		return
	}

	data, err := os.ReadFile(payload.Path)
	if err != nil {
		g.respond(conn, env.ID, false, nil, err.Error())
		return
	}
	g.respond(conn, env.ID, true, string(data), "")
}

// handleFileWrite answers app:file-write and app:save, creating parent
// directories as needed.
func (g *Gateway) handleFileWrite(conn *wsConn, env protocol.Envelope) {
	var payload protocol.FileWritePayload
	if err := env.DecodePayload(&payload); err != nil {
		g.respond(conn, env.ID, false, nil, "invalid file-write payload")
		return
	}

	if err := os.MkdirAll(filepath.Dir(payload.Path), 0o755); err != nil {
		g.respond(conn, env.ID, false, nil, err.Error())
		return
	}
	if err := os.WriteFile(payload.Path, []byte(payload.Content), 0o644); err != nil {
		g.respond(conn, env.ID, false, nil, err.Error())
		return
	}
	g.respond(conn, env.ID, true, nil, "")
}

// respond sends a backend:response for an intercepted file operation.
// File I/O errors travel over the protocol, never into the gateway's
// own control flow.
func (g *Gateway) respond(conn *wsConn, requestID string, success bool, data any, errMsg string) {
	env := protocol.MustEnvelope(protocol.TypeBackendResponse, protocol.ResponsePayload{
		RequestID: requestID,
		Success:   success,
		Data:      data,
		Error:     errMsg,
	})
	if err := conn.SendEnvelope(env); err != nil {
		g.log.Warn("Failed to send response", zap.Error(err))
		return
	}
	g.countMessage(env.Type, "out")
}
