package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/infrastructure/monitoring"
	"github.com/previewd/previewd/internal/process"
	"github.com/previewd/previewd/internal/protocol"
	"github.com/previewd/previewd/internal/session"
	"github.com/previewd/previewd/internal/shared/id"
)

// Sentinel errors surfaced to Open/Execute callers.
var (
	ErrUnknownSession = fmt.Errorf("unknown session")
	ErrNoConnection   = fmt.Errorf("no active connection for session")
)

// Listener observes protocol messages the gateway does not handle
// itself. This is the seam by which the host-side IPC layer sees saves,
// content edits, and generic requests.
type Listener func(sessionID, msgType string, payload json.RawMessage)

// OpenResult is returned from Open.
type OpenResult struct {
	SessionID    string               `json:"sessionId"`
	URL          string               `json:"url"`
	Editable     bool                 `json:"editable"`
	Capabilities []catalog.Capability `json:"capabilities,omitempty"`
}

// Config holds gateway tunables.
type Config struct {
	ExecuteTimeout time.Duration
}

// Gateway mediates the bidirectional protocol between the embedding
// host and running preview apps. All mutable tables live behind their
// owning component's mutex; the gateway itself only guards the listener
// list and the in-flight execute index.
type Gateway struct {
	cfg        Config
	log        *logging.Logger
	metrics    *monitoring.Metrics
	catalog    *catalog.Manager
	supervisor *process.Supervisor
	sessions   *session.Registry
	pending    *protocol.PendingTable
	urls       session.URLBuilder

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	// inflight maps execute request ids to the owning app so pending
	// calls can be failed immediately when the app's process exits.
	inflight map[string]string
}

// New creates a gateway. The supervisor's exit events are wired so that
// in-flight executes against a crashed app fail immediately instead of
// waiting out their timeout.
func New(cfg Config, cat *catalog.Manager, sup *process.Supervisor, sessions *session.Registry, urls session.URLBuilder, log *logging.Logger) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		log:        log,
		catalog:    cat,
		supervisor: sup,
		sessions:   sessions,
		pending:    protocol.NewPendingTable(),
		urls:       urls,
		listeners:  make(map[int]Listener),
		inflight:   make(map[string]string),
	}
	sup.OnExit(g.failInflightForApp)
	return g
}

// WithMetrics adds metrics tracking to the gateway.
func (g *Gateway) WithMetrics(m *monitoring.Metrics) *Gateway {
	g.metrics = m
	return g
}

// Open creates a session for the named app and returns the URL the
// embedding host should load. For process-backed apps the app server is
// spawned (or reused) first; the open aborts if it never becomes ready.
// An optional workspace path enforces the one-workspace-one-session
// policy: an existing live session for that workspace is returned as-is.
func (g *Gateway) Open(appName string, resource json.RawMessage, workspace string) (OpenResult, error) {
	desc, err := g.catalog.Get(appName)
	if err != nil {
		return OpenResult{}, err
	}

	if existing, ok := g.sessions.FindByWorkspace(workspace); ok {
		return OpenResult{
			SessionID:    existing.ID,
			URL:          existing.URL,
			Editable:     desc.Editable,
			Capabilities: existing.Capabilities(),
		}, nil
	}

	var appPort int
	if desc.Mode() == catalog.ModeProcess {
		proc, err := g.supervisor.EnsureRunning(desc)
		if err != nil {
			return OpenResult{}, fmt.Errorf("failed to start %q: %w", appName, err)
		}
		appPort = proc.Port
	}

	sess := g.sessions.Create(appName, workspace, resource, desc.Capabilities)
	sess.URL = g.urls.For(desc, sess.ID, appPort)

	g.log.Info("Opened session",
		zap.String("session", sess.ID),
		zap.String("app", appName),
		zap.String("mode", string(desc.Mode())),
	)

	return OpenResult{
		SessionID:    sess.ID,
		URL:          sess.URL,
		Editable:     desc.Editable,
		Capabilities: sess.Capabilities(),
	}, nil
}

// CloseSession closes the session's connection (normal closure) and
// removes it. Unknown ids are a no-op.
func (g *Gateway) CloseSession(sid string) {
	g.sessions.Remove(sid)
	g.log.Info("Closed session", zap.String("session", sid))
}

// StopApp terminates the app's server process.
func (g *Gateway) StopApp(appName string) error {
	return g.supervisor.Stop(appName)
}

// OnMessage registers a listener for forwarded protocol messages and
// returns its unsubscribe func.
func (g *Gateway) OnMessage(fn Listener) func() {
	g.mu.Lock()
	idx := g.nextID
	g.nextID++
	g.listeners[idx] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, idx)
		g.mu.Unlock()
	}
}

// Execute invokes a capability on the session's app and waits for the
// correlated result. Exactly one of three outcomes occurs: the matching
// app:execute-result arrives, the timeout fires, or the session has no
// usable connection and the call rejects immediately without sending.
func (g *Gateway) Execute(sid, capability string, params map[string]any) (json.RawMessage, error) {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}

	conn := sess.Conn()
	if conn == nil && !sess.Bridge() {
		if g.metrics != nil {
			g.metrics.ExecuteTotal.WithLabelValues("no_connection").Inc()
		}
		return nil, fmt.Errorf("%w: %q", ErrNoConnection, sid)
	}

	requestID := id.NewRequestID().String()
	ch := g.pending.Register(requestID, g.cfg.ExecuteTimeout)
	g.trackInflight(requestID, sess.App)
	start := time.Now()

	if conn != nil {
		payload, err := json.Marshal(protocol.ExecutePayload{
			Capability: capability,
			Params:     params,
		})
		if err != nil {
			g.pending.Cancel(requestID)
			g.untrackInflight(requestID)
			return nil, fmt.Errorf("failed to encode execute payload: %w", err)
		}
		// The envelope id is the correlation key: the app must echo it
		// back as requestId in app:execute-result.
		env := protocol.Envelope{
			ID:      requestID,
			TS:      time.Now().UnixMilli(),
			Type:    protocol.TypeBackendExecute,
			Payload: payload,
		}
		if err := conn.SendEnvelope(env); err != nil {
			g.pending.Cancel(requestID)
			g.untrackInflight(requestID)
			return nil, fmt.Errorf("%w: %q", ErrNoConnection, sid)
		}
		g.countMessage(protocol.TypeBackendExecute, "out")
	} else {
		// Poll-reachable app: queue the call for the HTTP bridge. The
		// same timeout still governs the round trip.
		sess.EnqueueCall(session.PendingCall{
			ID:         requestID,
			Capability: capability,
			Params:     params,
		})
	}

	res := <-ch
	g.untrackInflight(requestID)

	if g.metrics != nil {
		g.metrics.ExecuteDuration.Observe(time.Since(start).Seconds())
		switch {
		case res.Err == nil:
			g.metrics.ExecuteTotal.WithLabelValues("ok").Inc()
		case errors.Is(res.Err, protocol.ErrExecuteTimeout):
			g.metrics.ExecuteTotal.WithLabelValues("timeout").Inc()
		default:
			g.metrics.ExecuteTotal.WithLabelValues("error").Inc()
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Data, nil
}

// SendToSession delivers an envelope to the session's bound connection.
// Missing sessions and unbound connections are a silent no-op.
func (g *Gateway) SendToSession(sid string, env protocol.Envelope) {
	sess, ok := g.sessions.Get(sid)
	if !ok {
		return
	}
	conn := sess.Conn()
	if conn == nil {
		return
	}
	if err := conn.SendEnvelope(env); err != nil {
		g.log.Warn("Failed to send to session",
			zap.String("session", sid),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		return
	}
	g.countMessage(env.Type, "out")
}

// SendTheme pushes a theme change to one session.
func (g *Gateway) SendTheme(sid, theme string) {
	g.SendToSession(sid, protocol.MustEnvelope(protocol.TypeBackendTheme, protocol.ThemePayload{Theme: theme}))
}

// BroadcastContentUpdate notifies every bound session that a file was
// changed outside the app (e.g. the host wrote it directly).
func (g *Gateway) BroadcastContentUpdate(filePath, content, source string) {
	env := protocol.MustEnvelope(protocol.TypeBackendContentUpdate, protocol.ContentUpdatePayload{
		FilePath: filePath,
		Content:  content,
		Source:   source,
	})
	for _, sess := range g.sessions.List() {
		if conn := sess.Conn(); conn != nil {
			if err := conn.SendEnvelope(env); err == nil {
				g.countMessage(env.Type, "out")
			}
		}
	}
}

// Shutdown is the two-phase barrier: close every bound connection and
// clear the session table, then terminate every tracked process.
func (g *Gateway) Shutdown() {
	g.log.Info("Gateway shutting down")
	g.sessions.RemoveAll()
	g.supervisor.StopAll()
}

// forward hands a message to every registered listener.
func (g *Gateway) forward(sid, msgType string, payload json.RawMessage) {
	g.mu.Lock()
	listeners := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		listeners = append(listeners, fn)
	}
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(sid, msgType, payload)
	}
}

func (g *Gateway) trackInflight(requestID, app string) {
	g.mu.Lock()
	g.inflight[requestID] = app
	g.mu.Unlock()
}

func (g *Gateway) untrackInflight(requestID string) {
	g.mu.Lock()
	delete(g.inflight, requestID)
	g.mu.Unlock()
}

// failInflightForApp rejects every pending execute owned by the exited
// app so callers do not wait out the full timeout.
func (g *Gateway) failInflightForApp(app string) {
	g.mu.Lock()
	var ids []string
	for rid, owner := range g.inflight {
		if owner == app {
			ids = append(ids, rid)
		}
	}
	g.mu.Unlock()

	for _, rid := range ids {
		g.pending.Fail(rid, fmt.Errorf("app %q process exited", app))
	}
}

func (g *Gateway) countMessage(msgType, direction string) {
	if g.metrics != nil {
		g.metrics.MessagesTotal.WithLabelValues(msgType, direction).Inc()
	}
}
