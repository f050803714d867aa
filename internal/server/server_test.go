package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/execution"
	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/observability"
	"github.com/michaelbrown/runbox/internal/runner"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/session"
)

// fakeGate rejects snippets importing os and fails when err is set.
type fakeGate struct {
	err error
}

func (g *fakeGate) Vet(_ context.Context, code string) (gate.Verdict, error) {
	if g.err != nil {
		return gate.Verdict{}, g.err
	}
	if strings.Contains(code, "import os") {
		return gate.Verdict{Kind: gate.KindForbiddenModule, Symbol: "os"}, nil
	}
	if strings.Contains(code, "eval(") {
		return gate.Verdict{Kind: gate.KindForbiddenCall, Symbol: "eval"}, nil
	}
	return gate.Verdict{Allowed: true}, nil
}

// echoPool prints the snippet back, or fails it when it contains "raise".
type echoPool struct {
	mu   sync.Mutex
	runs int
}

func (p *echoPool) Submit(_ context.Context, opts sandbox.ExecOpts) execution.Result {
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	if strings.Contains(opts.Code, "raise") {
		return execution.Result{Stderr: "Traceback: boom\n", Outcome: execution.OutcomeRuntimeError}
	}
	return execution.Result{Stdout: opts.Code + "\n", Outcome: execution.OutcomeSuccess}
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	sessions *session.Store
	gate     *fakeGate
	pool     *echoPool
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	sessions, err := session.NewStore(filepath.Join(t.TempDir(), "sessions"), nil)
	require.NoError(t, err)

	g := &fakeGate{}
	pool := &echoPool{}
	metrics := observability.NewMetrics()
	r := runner.New(g, sessions, pool, runner.WithMetrics(metrics))

	s := New(cfg, r, metrics, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		ts.Close()
	})
	return &testEnv{server: s, http: ts, sessions: sessions, gate: g, pool: pool}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "print('Hello, World!')"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Code executed successfully", body["message"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "print('Hello, World!')\n", data["output"])
	assert.Equal(t, "", data["errors"])

	id := resp.Header.Get("X-Session-ID")
	require.NotEmpty(t, id)
	_, err := env.sessions.Resolve(id)
	assert.NoError(t, err)
}

func TestExecuteRuntimeError(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "raise ValueError()"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Execution error encountered", body["message"])
	assert.Contains(t, body["data"].(map[string]any)["errors"], "Traceback")
}

func TestExecuteSecurityRejection(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "import os\nos.system('ls')"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Security Error: forbidden module: os", body["detail"])

	resp, body = env.do(t, http.MethodPost, "/execute", `{"code": "eval('1+1')"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Security Error: forbidden keyword: eval", body["detail"])

	assert.Zero(t, env.pool.runs)
}

func TestExecuteUnknownSession(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "x = 1", "session_id": "missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found: missing", body["detail"])
}

func TestExecuteMalformedBody(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["detail"], "invalid JSON")

	resp, body = env.do(t, http.MethodPost, "/execute", `{"session_id": "x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "code is required", body["detail"])
}

func TestExecuteBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	code := "x = '" + strings.Repeat("a", maxBodyBytes) + "'"
	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "`+code+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errBodyTooLarge.Error(), body["detail"])
	assert.Zero(t, env.pool.runs)
}

func TestExecuteInternalFailure(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	env.gate.err = errors.New("interpreter missing")

	resp, body := env.do(t, http.MethodPost, "/execute", `{"code": "print(1)"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "Execution failed: ")
	assert.Contains(t, body["message"], "interpreter missing")
	assert.Nil(t, body["data"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodPost, "/session/new", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := body["session_id"].(string)
	assert.Equal(t, "Session "+id+" created", body["message"])

	resp, _ = env.do(t, http.MethodPost, "/execute", `{"code": "x = 1", "session_id": "`+id+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get("X-Session-ID"))

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/sessions", nil)
	require.NoError(t, err)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	listResp.Body.Close()
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0]["session_id"])

	resp, body = env.do(t, http.MethodDelete, "/session/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Session "+id+" deleted", body["message"])

	// Deleting again still succeeds.
	resp, body = env.do(t, http.MethodDelete, "/session/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["session_id"])

	resp, _ = env.do(t, http.MethodPost, "/execute", `{"code": "x = 1", "session_id": "`+id+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	env.do(t, http.MethodPost, "/execute", `{"code": "print(1)"}`)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	assert.Contains(t, text, `runbox_execution_total{outcome="success"} 1`)
	assert.Contains(t, text, `route="/execute"`)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RateLimit: config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2}})

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/session/new", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodPost, "/session/new", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["detail"])

	// Health checks are never limited.
	resp, _ = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "one token refills per second at 60/min")

	now = now.Add(time.Hour)
	rl.Allow("10.0.0.3")
	assert.Len(t, rl.clients, 1, "idle clients are pruned")
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketExecute(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "execute", "code": "print(1)"}))
	var res wsResult
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "result", res.Type)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "print(1)\n", res.Output)
	require.NotEmpty(t, res.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "execute", "code": "raise X", "session_id": res.SessionID}))
	var second wsResult
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, res.SessionID, second.SessionID)
	assert.Equal(t, "error", second.Status)
	assert.NotEmpty(t, second.Errors)
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	conn := dialWS(t, env)

	cases := []struct {
		msg  map[string]string
		want string
	}{
		{map[string]string{"type": "hello"}, "invalid message"},
		{map[string]string{"type": "execute"}, "invalid message"},
		{map[string]string{"type": "execute", "code": "import os"}, "Security Error: forbidden module: os"},
		{map[string]string{"type": "execute", "code": "x", "session_id": "gone"}, "session not found: gone"},
	}
	for _, tc := range cases {
		require.NoError(t, conn.WriteJSON(tc.msg))
		var out wsError
		require.NoError(t, conn.ReadJSON(&out))
		assert.Equal(t, "error", out.Type)
		assert.Equal(t, tc.want, out.Content)
	}
}

func TestShutdownClosesWebSockets(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	conn := dialWS(t, env)

	require.Eventually(t, func() bool { return env.server.conns.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.server.Shutdown(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
