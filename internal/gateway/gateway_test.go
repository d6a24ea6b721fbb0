package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/process"
	"github.com/previewd/previewd/internal/protocol"
	"github.com/previewd/previewd/internal/session"
)

type fixture struct {
	g        *Gateway
	sessions *session.Registry
	srv      *httptest.Server
}

func newFixture(t *testing.T, executeTimeout time.Duration) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat := catalog.NewManager()
	require.NoError(t, cat.Register(&catalog.Descriptor{
		Name:     "markdown",
		Editable: true,
		Capabilities: []catalog.Capability{
			{Name: "get_content"},
		},
	}))

	sup := process.NewSupervisor(process.Config{
		ReadyInterval: 50 * time.Millisecond,
		ReadyTimeout:  time.Second,
		StopGrace:     time.Second,
	}, logging.NewNop())

	sessions := session.NewRegistry()
	urls := session.URLBuilder{Host: "127.0.0.1", GatewayPort: 7420}
	g := New(Config{ExecuteTimeout: executeTimeout}, cat, sup, sessions, urls, logging.NewNop())

	r := gin.New()
	r.GET("/ws", g.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{g: g, sessions: sessions, srv: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEnv(t *testing.T, ws *websocket.Conn, msgType string, payload any) protocol.Envelope {
	t.Helper()
	env := protocol.MustEnvelope(msgType, payload)
	require.NoError(t, ws.WriteJSON(env))
	return env
}

func readEnv(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

// ready performs the app:ready handshake and waits for the binding to
// take effect.
func (f *fixture) ready(t *testing.T, ws *websocket.Conn, sid string) {
	t.Helper()
	sendEnv(t, ws, protocol.TypeAppReady, protocol.ReadyPayload{SessionID: sid})
	require.Eventually(t, func() bool {
		sess, ok := f.sessions.Get(sid)
		return ok && sess.Conn() != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenStaticSession(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SessionID, "sess_"))
	assert.Equal(t, "http://127.0.0.1:7420/markdown/?sid="+res.SessionID, res.URL)
	assert.True(t, res.Editable)
	assert.Len(t, res.Capabilities, 1)
}

func TestOpenUnknownApp(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.g.Open("nope", nil, "")
	assert.ErrorIs(t, err, catalog.ErrUnknownApp)
}

func TestOpenReusesWorkspaceSession(t *testing.T) {
	f := newFixture(t, time.Second)

	first, err := f.g.Open("markdown", nil, "/tmp/ws-a")
	require.NoError(t, err)
	second, err := f.g.Open("markdown", nil, "/tmp/ws-a")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.URL, second.URL)

	other, err := f.g.Open("markdown", nil, "/tmp/ws-b")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, other.SessionID)
}

func TestReadyFlushesQueuedResource(t *testing.T) {
	f := newFixture(t, time.Second)

	resource := json.RawMessage(`{"path":"/tmp/readme.md"}`)
	res, err := f.g.Open("markdown", resource, "")
	require.NoError(t, err)

	ws := f.dial(t)
	sendEnv(t, ws, protocol.TypeAppReady, protocol.ReadyPayload{SessionID: res.SessionID})

	env := readEnv(t, ws)
	assert.Equal(t, protocol.TypeBackendOpen, env.Type)

	var open protocol.OpenPayload
	require.NoError(t, env.DecodePayload(&open))
	assert.JSONEq(t, string(resource), string(open.Resource))
}

func TestReadyCapabilityOverride(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)

	ws := f.dial(t)
	sendEnv(t, ws, protocol.TypeAppReady, protocol.ReadyPayload{
		SessionID: res.SessionID,
		Capabilities: []protocol.Capability{
			{Name: "set_theme"},
			{Name: "insert_text"},
		},
	})

	require.Eventually(t, func() bool {
		sess, _ := f.sessions.Get(res.SessionID)
		return sess.Conn() != nil
	}, 2*time.Second, 10*time.Millisecond)

	sess, _ := f.sessions.Get(res.SessionID)
	caps := sess.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, "set_theme", caps[0].Name)
}

func TestExecuteCorrelation(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	go func() {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		result := protocol.MustEnvelope(protocol.TypeAppExecuteResult, protocol.ExecuteResultPayload{
			RequestID: env.ID,
			Success:   true,
			Data:      json.RawMessage(`{"content":"# hello"}`),
		})
		ws.WriteJSON(result)
	}()

	data, err := f.g.Execute(res.SessionID, "get_content", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"# hello"}`, string(data))
}

func TestExecuteAppError(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	go func() {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		result := protocol.MustEnvelope(protocol.TypeAppExecuteResult, protocol.ExecuteResultPayload{
			RequestID: env.ID,
			Success:   false,
			Error:     "unknown capability",
		})
		ws.WriteJSON(result)
	}()

	_, err = f.g.Execute(res.SessionID, "bogus", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capability")
}

func TestExecuteMismatchedIDTimesOut(t *testing.T) {
	f := newFixture(t, 300*time.Millisecond)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	go func() {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		result := protocol.MustEnvelope(protocol.TypeAppExecuteResult, protocol.ExecuteResultPayload{
			RequestID: "req_bogus",
			Success:   true,
		})
		ws.WriteJSON(result)
	}()

	_, err = f.g.Execute(res.SessionID, "get_content", nil)
	assert.ErrorIs(t, err, protocol.ErrExecuteTimeout)
}

func TestExecuteNoConnectionRejectsImmediately(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)

	start := time.Now()
	_, err = f.g.Execute(res.SessionID, "get_content", nil)
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteUnknownSession(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.g.Execute("sess_missing", "get_content", nil)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFileWriteThenReadIntercept(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	path := filepath.Join(t.TempDir(), "nested", "doc.md")
	writeEnv := sendEnv(t, ws, protocol.TypeAppFileWrite, protocol.FileWritePayload{
		Path:    path,
		Content: "# saved",
	})

	resp := readEnv(t, ws)
	assert.Equal(t, protocol.TypeBackendResponse, resp.Type)
	var wr protocol.ResponsePayload
	require.NoError(t, resp.DecodePayload(&wr))
	assert.Equal(t, writeEnv.ID, wr.RequestID)
	assert.True(t, wr.Success)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# saved", string(data))

	readReq := sendEnv(t, ws, protocol.TypeAppFileRead, protocol.FileReadPayload{Path: path})
	resp = readEnv(t, ws)
	var rd protocol.ResponsePayload
	require.NoError(t, resp.DecodePayload(&rd))
	assert.Equal(t, readReq.ID, rd.RequestID)
	assert.True(t, rd.Success)
	assert.Equal(t, "# saved", rd.Data)
}

func TestFileReadMissingFails(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	sendEnv(t, ws, protocol.TypeAppFileRead, protocol.FileReadPayload{
		Path: filepath.Join(t.TempDir(), "absent.md"),
	})

	resp := readEnv(t, ws)
	var rd protocol.ResponsePayload
	require.NoError(t, resp.DecodePayload(&rd))
	assert.False(t, rd.Success)
	assert.NotEmpty(t, rd.Error)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f.ready(t, ws, res.SessionID)
}

func TestForwardAndUnsubscribe(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	type forwarded struct {
		sid, msgType string
	}
	got := make(chan forwarded, 4)
	unsubscribe := f.g.OnMessage(func(sid, msgType string, payload json.RawMessage) {
		got <- forwarded{sid, msgType}
	})

	sendEnv(t, ws, protocol.TypeAppContentChanged, map[string]string{"content": "# edited"})

	select {
	case msg := <-got:
		assert.Equal(t, res.SessionID, msg.sid)
		assert.Equal(t, protocol.TypeAppContentChanged, msg.msgType)
	case <-time.After(2 * time.Second):
		t.Fatal("message never forwarded")
	}

	unsubscribe()
	sendEnv(t, ws, protocol.TypeAppContentChanged, map[string]string{"content": "# again"})

	select {
	case <-got:
		t.Fatal("listener fired after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcastContentUpdate(t *testing.T) {
	f := newFixture(t, time.Second)

	a, err := f.g.Open("markdown", nil, "/tmp/bc-a")
	require.NoError(t, err)
	b, err := f.g.Open("markdown", nil, "/tmp/bc-b")
	require.NoError(t, err)

	wsA := f.dial(t)
	f.ready(t, wsA, a.SessionID)
	wsB := f.dial(t)
	f.ready(t, wsB, b.SessionID)

	f.g.BroadcastContentUpdate("/tmp/doc.md", "# external", "host")

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		env := readEnv(t, ws)
		assert.Equal(t, protocol.TypeBackendContentUpdate, env.Type)
		var upd protocol.ContentUpdatePayload
		require.NoError(t, env.DecodePayload(&upd))
		assert.Equal(t, "# external", upd.Content)
	}
}

func TestCloseSessionClosesConnection(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)
	ws := f.dial(t)
	f.ready(t, ws, res.SessionID)

	f.g.CloseSession(res.SessionID)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	_, ok := f.sessions.Get(res.SessionID)
	assert.False(t, ok)
}

func TestReconnectReplacesBinding(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)

	first := f.dial(t)
	f.ready(t, first, res.SessionID)
	sess, _ := f.sessions.Get(res.SessionID)
	firstConn := sess.Conn()

	second := f.dial(t)
	f.ready(t, second, res.SessionID)
	require.Eventually(t, func() bool {
		return sess.Conn() != firstConn
	}, 2*time.Second, 10*time.Millisecond)

	// The replaced connection's disconnect must not unbind the new one.
	first.Close()
	time.Sleep(100 * time.Millisecond)
	assert.NotNil(t, sess.Conn())
}

func TestBridgeExecuteRoundTrip(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)

	require.NoError(t, f.g.RegisterTools(res.SessionID, []catalog.Capability{
		{Name: "render_chart"},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			calls, err := f.g.PendingCalls(res.SessionID)
			if err == nil && len(calls) == 1 {
				assert.Equal(t, "render_chart", calls[0].Capability)
				ok := f.g.ResolveTool(res.SessionID, calls[0].ID, true, json.RawMessage(`{"ok":true}`), "")
				assert.True(t, ok)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	data, err := f.g.Execute(res.SessionID, "render_chart", map[string]any{"kind": "bar"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	<-done
}

func TestBridgeStateAndEvents(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.g.Open("markdown", nil, "")
	require.NoError(t, err)

	require.NoError(t, f.g.SetState(res.SessionID, map[string]any{"page": float64(3)}))
	require.NoError(t, f.g.SetState(res.SessionID, map[string]any{"zoom": 1.5}))

	state, err := f.g.GetState(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), state["page"])
	assert.Equal(t, 1.5, state["zoom"])

	got := make(chan string, 1)
	f.g.OnMessage(func(sid, msgType string, payload json.RawMessage) {
		got <- msgType
	})
	require.NoError(t, f.g.EmitEvent(res.SessionID, "selection", map[string]any{"row": 2}))

	select {
	case msgType := <-got:
		assert.Equal(t, protocol.TypeAppEvent, msgType)
	case <-time.After(time.Second):
		t.Fatal("bridge event never forwarded")
	}
}
