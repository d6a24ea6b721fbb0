package gateway

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/protocol"
	"github.com/previewd/previewd/internal/session"
)

// The HTTP bridge serves apps built on frameworks that cannot hold a
// WebSocket (server-rendered Python UIs and the like). Such apps
// register their capabilities over plain HTTP, poll for queued
// capability calls, and post results back; everything funnels into the
// same session and correlation tables as the WebSocket path.

// RegisterTools records HTTP-registered capabilities for the session
// and marks it poll-reachable.
func (g *Gateway) RegisterTools(sid string, tools []catalog.Capability) error {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}
	sess.SetCapabilities(tools)
	sess.SetBridge(true)

	g.log.Info("Bridge tools registered",
		zap.String("session", sid),
		zap.Int("tools", len(tools)),
	)
	return nil
}

// SetState merges app-pushed state into the session store.
func (g *Gateway) SetState(sid string, state map[string]any) error {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}
	sess.SetState(state)
	return nil
}

// GetState returns the session's state store.
func (g *Gateway) GetState(sid string) (map[string]any, error) {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}
	return sess.State(), nil
}

// EmitEvent forwards an HTTP-bridge event to protocol listeners exactly
// as if it had arrived over the WebSocket.
func (g *Gateway) EmitEvent(sid, event string, data map[string]any) error {
	if _, ok := g.sessions.Get(sid); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}

	body := map[string]any{"event": event}
	for k, v := range data {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	g.countMessage(protocol.TypeAppEvent, "in")
	g.forward(sid, protocol.TypeAppEvent, payload)
	return nil
}

// PendingCalls drains the session's queued capability calls for a
// polling client.
func (g *Gateway) PendingCalls(sid string) ([]session.PendingCall, error) {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}
	return sess.DrainCalls(), nil
}

// ResolveTool completes a pending execute with a bridge-posted result.
// Unknown request ids (completed, timed out, or bogus) return false.
func (g *Gateway) ResolveTool(sid, requestID string, success bool, data json.RawMessage, errMsg string) bool {
	if _, ok := g.sessions.Get(sid); !ok {
		return false
	}
	return g.pending.Resolve(requestID, success, data, errMsg)
}
