package session

import (
	"encoding/json"
	"sync"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/monitoring"
	"github.com/previewd/previewd/internal/protocol"
	"github.com/previewd/previewd/internal/shared/id"
)

// Session is one opened preview resource. At most one protocol
// connection is bound at a time; a reconnect replaces the binding.
type Session struct {
	ID        string
	App       string
	Workspace string

	// Queued holds a resource requested before the app's page connected;
	// it is flushed as backend:open on bind.
	Queued json.RawMessage

	// URL is the app-facing page URL handed back from Open.
	URL string

	conn         protocol.Sender
	capabilities []catalog.Capability

	// bridge marks sessions whose app registered over the HTTP API
	// instead of holding a WebSocket; Execute queues calls for polling.
	bridge bool

	// state is the key/value store pushed by apps over the HTTP bridge.
	state map[string]any

	// pollQueue holds pending capability calls for poll-reachable apps
	// that use the HTTP bridge instead of a WebSocket.
	pollQueue []PendingCall

	mu sync.Mutex
}

// PendingCall is one queued capability invocation awaiting an HTTP
// bridge client poll.
type PendingCall struct {
	ID         string         `json:"id"`
	Capability string         `json:"tool"`
	Params     map[string]any `json:"params,omitempty"`
}

// Conn returns the bound connection, or nil.
func (s *Session) Conn() protocol.Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Capabilities returns the session's advertised capabilities.
func (s *Session) Capabilities() []catalog.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := make([]catalog.Capability, len(s.capabilities))
	copy(caps, s.capabilities)
	return caps
}

// SetCapabilities replaces the session's capability list (app:ready
// override or HTTP bridge registration).
func (s *Session) SetCapabilities(caps []catalog.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = caps
}

// HasCapabilities reports whether the app advertised anything.
func (s *Session) HasCapabilities() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.capabilities) > 0
}

// SetBridge marks the session as reachable through the HTTP bridge.
func (s *Session) SetBridge(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = v
}

// Bridge reports whether the session's app polls the HTTP bridge.
func (s *Session) Bridge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// TakeQueued returns and clears the queued resource, if any.
func (s *Session) TakeQueued() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Queued == nil {
		return nil, false
	}
	q := s.Queued
	s.Queued = nil
	return q, true
}

// SetState merges key/value state pushed by the app.
func (s *Session) SetState(state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = make(map[string]any)
	}
	for k, v := range state {
		s.state[k] = v
	}
}

// State returns a copy of the session state.
func (s *Session) State() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// EnqueueCall appends a pending capability call for HTTP bridge polling.
func (s *Session) EnqueueCall(call PendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollQueue = append(s.pollQueue, call)
}

// DrainCalls returns and clears all queued capability calls.
func (s *Session) DrainCalls() []PendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.pollQueue
	s.pollQueue = nil
	if calls == nil {
		calls = []PendingCall{}
	}
	return calls
}

// Registry tracks open sessions and their connection bindings.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *monitoring.Metrics
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// WithMetrics adds metrics tracking to the registry.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// Create opens a session for the app with an optional queued resource.
func (r *Registry) Create(app, workspace string, resource json.RawMessage, caps []catalog.Capability) *Session {
	sess := &Session{
		ID:           id.NewSessionID().String(),
		App:          app,
		Workspace:    workspace,
		Queued:       resource,
		capabilities: caps,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsTotal.Inc()
		r.metrics.SessionsOpen.Set(float64(count))
	}
	return sess
}

// Get retrieves a session by id.
func (r *Registry) Get(sid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// List returns all open sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// FindByWorkspace returns an existing session for the workspace, if one
// is open. One workspace has at most one active preview session.
func (r *Registry) FindByWorkspace(workspace string) (*Session, bool) {
	if workspace == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Workspace == workspace {
			return s, true
		}
	}
	return nil, false
}

// Bind attaches a connection to the session, replacing any previous
// binding. Returns false if the session does not exist.
func (r *Registry) Bind(sid string, conn protocol.Sender) bool {
	r.mu.RLock()
	sess, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	sess.conn = conn
	sess.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionsBound.Set(float64(r.boundCount()))
	}
	return true
}

// Unbind detaches the connection from its session, but only if it is
// still the bound one; a replaced connection's disconnect must not drop
// the replacement.
func (r *Registry) Unbind(sid string, conn protocol.Sender) {
	r.mu.RLock()
	sess, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.conn == conn {
		sess.conn = nil
	}
	sess.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionsBound.Set(float64(r.boundCount()))
	}
}

// Remove closes the session: the bound connection (if any) is closed
// with a normal-closure code and the entry is dropped. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(sid string) {
	r.mu.Lock()
	sess, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.mu.Lock()
	conn := sess.conn
	sess.conn = nil
	sess.mu.Unlock()

	if conn != nil {
		conn.CloseNormal()
	}

	if r.metrics != nil {
		r.metrics.SessionsOpen.Set(float64(count))
		r.metrics.ConnectionsBound.Set(float64(r.boundCount()))
	}
}

// RemoveAll closes every session, part of the shutdown barrier.
func (r *Registry) RemoveAll() {
	for _, s := range r.List() {
		r.Remove(s.ID)
	}
}

func (r *Registry) boundCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, s := range r.sessions {
		if s.Conn() != nil {
			n++
		}
	}
	return n
}
