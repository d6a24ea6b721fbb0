package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/gateway"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/process"
	"github.com/previewd/previewd/internal/session"
)

type apiFixture struct {
	router   *gin.Engine
	gateway  *gateway.Gateway
	sessions *session.Registry
	appDir   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.NewNop()

	appDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "index.html"), []byte("<html>markdown</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "app.js"), []byte("console.log(1)"), 0o644))

	sdkDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sdkDir, "sdk.js"), []byte("window.preview={}"), 0o644))

	cat := catalog.NewManager()
	require.NoError(t, cat.Register(&catalog.Descriptor{
		Name:     "markdown",
		Dir:      appDir,
		Editable: true,
	}))

	sup := process.NewSupervisor(process.Config{
		ReadyInterval: 50 * time.Millisecond,
		ReadyTimeout:  time.Second,
		StopGrace:     time.Second,
	}, log)
	sessions := session.NewRegistry()
	gw := gateway.New(
		gateway.Config{ExecuteTimeout: time.Second},
		cat, sup, sessions,
		session.URLBuilder{Host: "127.0.0.1", GatewayPort: 7420},
		log,
	)

	h := NewHandlers(gw, cat, sessions, 7420, log)
	static := NewStaticRouter(cat, sdkDir, log)

	r := gin.New()
	h.Register(r, static, gw.HandleWS)

	return &apiFixture{router: r, gateway: gw, sessions: sessions, appDir: appDir}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/__health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7420), body["port"])
	assert.Equal(t, []any{"markdown"}, body["apps"])
}

func TestListApps(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/__apps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"markdown"`)
}

func TestOpenSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/__open", gin.H{"app": "markdown"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	sess := body["session"].(map[string]any)
	sid := sess["sessionId"].(string)
	assert.Contains(t, sess["url"], "sid="+sid)

	w = f.do(t, http.MethodGet, "/__sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), sid)

	w = f.do(t, http.MethodDelete, "/__sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := f.sessions.Get(sid)
	assert.False(t, ok)
}

func TestOpenUnknownApp(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/__open", gin.H{"app": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenMissingAppField(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/__open", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteNoConnection(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.gateway.Open("markdown", nil, "")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/__sessions/"+res.SessionID+"/execute", gin.H{
		"capability": "get_content",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExecuteUnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/__sessions/sess_missing/execute", gin.H{
		"capability": "get_content",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticServesBundleFiles(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/markdown/app.js", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())
}

func TestStaticSPAFallback(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/markdown/", "/markdown/some/client/route"} {
		w := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "<html>markdown</html>", w.Body.String(), path)
	}
}

func TestStaticUnknownApp(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/ghost/index.html", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticMissingIndex(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.appDir, "index.html")))

	w := f.do(t, http.MethodGet, "/markdown/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticTraversalBlocked(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/markdown/x", nil)
	req.URL.Path = "/markdown/../../etc/passwd"
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	// Either the traversal resolves inside the bundle (SPA fallback) or
	// it is rejected; it must never leak /etc/passwd.
	assert.NotContains(t, w.Body.String(), "root:")
}

func TestSDKServed(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/__sdk/sdk.js", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "window.preview={}", w.Body.String())
}

func TestBridgeRequiresSID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/__api/state", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBridgeStateRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.gateway.Open("markdown", nil, "")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/__api/state?sid="+res.SessionID, gin.H{"page": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/__api/state?sid="+res.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode(t, w)["state"].(map[string]any)
	assert.Equal(t, float64(2), state["page"])
}

func TestBridgeToolRegistrationUnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/__api/tools?sid=sess_missing", gin.H{
		"tools": []gin.H{{"name": "render"}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBridgePollAndResolve(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.gateway.Open("markdown", nil, "")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/__api/tools?sid="+res.SessionID, gin.H{
		"tools": []gin.H{{"name": "render_chart"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	type execOut struct {
		data json.RawMessage
		err  error
	}
	done := make(chan execOut, 1)
	go func() {
		data, err := f.gateway.Execute(res.SessionID, "render_chart", nil)
		done <- execOut{data, err}
	}()

	var requestID string
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/__api/tools/pending?sid="+res.SessionID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		calls := decode(t, w)["calls"].([]any)
		if len(calls) != 1 {
			return false
		}
		requestID = calls[0].(map[string]any)["id"].(string)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	w = f.do(t, http.MethodPost, "/__api/tool-result?sid="+res.SessionID, gin.H{
		"requestId": requestID,
		"success":   true,
		"data":      gin.H{"rendered": true},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["resolved"])

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"rendered":true}`, string(out.data))
}
