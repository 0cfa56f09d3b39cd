package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/history"
	"github.com/loykin/watchdogd/internal/supervisor"
)

type fakeController struct {
	mu     sync.Mutex
	states []supervisor.State
	calls  []string
	err    error
	block  bool
}

func (f *fakeController) States() []supervisor.State { return f.states }

func (f *fakeController) State(name string) (supervisor.State, error) {
	for _, s := range f.states {
		if s.Name == name {
			return s, nil
		}
	}
	return supervisor.State{}, supervisor.ErrUnknownService
}

func (f *fakeController) record(ctx context.Context, action, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, action+":"+name)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if _, err := f.State(name); err != nil {
		return err
	}
	return f.err
}

func (f *fakeController) StartService(ctx context.Context, name string) error {
	return f.record(ctx, "start", name)
}

func (f *fakeController) StopService(ctx context.Context, name string) error {
	return f.record(ctx, "stop", name)
}

func (f *fakeController) RestartService(ctx context.Context, name string) error {
	return f.record(ctx, "restart", name)
}

type fakeHistory struct {
	recs []history.Record
	err  error
	got  struct {
		service string
		limit   int
	}
}

func (h *fakeHistory) Recent(_ context.Context, service string, limit int) ([]history.Record, error) {
	h.got.service, h.got.limit = service, limit
	return h.recs, h.err
}

func newController() *fakeController {
	return &fakeController{
		states: []supervisor.State{
			{Name: "api", Kind: "executable", Phase: supervisor.PhaseRunning, Tracked: 3, PID: 100, AutoRestart: true,
				LaunchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			{Name: "web", Kind: "package_script", Phase: supervisor.PhaseStopped},
		},
	}
}

func setupRouter(t *testing.T, ctl Controller, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ctl, opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, newController(), Options{BasePath: "/api"})
	rec := doReq(t, h, http.MethodGet, "/api/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","services":2,"running":1}`, rec.Body.String())
}

func TestListServicesKeepsOrder(t *testing.T) {
	h := setupRouter(t, newController(), Options{})
	rec := doReq(t, h, http.MethodGet, "/services")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []supervisor.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "api", got[0].Name)
	assert.Equal(t, supervisor.PhaseRunning, got[0].Phase)
	assert.Equal(t, "web", got[1].Name)
}

func TestGetServiceReportsTrackedCountOnly(t *testing.T) {
	h := setupRouter(t, newController(), Options{})

	rec := doReq(t, h, http.MethodGet, "/services/api")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "api", got["name"])
	assert.EqualValues(t, 3, got["tracked"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["launched_at"])
	assert.NotContains(t, got, "pids")

	rec = doReq(t, h, http.MethodGet, "/services/web")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "launched_at", "zero launch time is omitted")
	assert.NotContains(t, rec.Body.String(), "0001-01-01")

	rec = doReq(t, h, http.MethodGet, "/services/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommands(t *testing.T) {
	ctl := newController()
	h := setupRouter(t, ctl, Options{BasePath: "/api/"})

	for _, action := range []string{"start", "stop", "restart"} {
		rec := doReq(t, h, http.MethodPost, "/api/services/api/"+action)
		require.Equal(t, http.StatusOK, rec.Code, action)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	}
	assert.Equal(t, []string{"start:api", "stop:api", "restart:api"}, ctl.calls)

	rec := doReq(t, h, http.MethodPost, "/api/services/ghost/start")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/api/services/api/start")
	assert.Equal(t, http.StatusNotFound, rec.Code, "commands are POST only")
}

func TestCommandErrorMapping(t *testing.T) {
	ctl := newController()
	ctl.err = supervisor.ErrShuttingDown
	h := setupRouter(t, ctl, Options{})
	rec := doReq(t, h, http.MethodPost, "/services/api/stop")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ctl.err = errors.New("boom")
	rec = doReq(t, h, http.MethodPost, "/services/api/stop")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestCommandTimeout(t *testing.T) {
	ctl := newController()
	ctl.block = true
	h := setupRouter(t, ctl, Options{CommandTimeout: 20 * time.Millisecond})
	rec := doReq(t, h, http.MethodPost, "/services/api/stop")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestEvents(t *testing.T) {
	rec := events.NewRecorder(10)
	ctx := context.Background()
	for i, svc := range []string{"api", "web", "api", "api"} {
		require.NoError(t, rec.Send(ctx, events.Event{Service: svc, Kind: events.Started, RestartCount: i}))
	}
	h := setupRouter(t, newController(), Options{Events: rec})

	res := doReq(t, h, http.MethodGet, "/events?limit=2")
	require.Equal(t, http.StatusOK, res.Code)
	var got []events.Event
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].RestartCount)
	assert.Equal(t, 3, got[1].RestartCount)

	res = doReq(t, h, http.MethodGet, "/events?service=web")
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "web", got[0].Service)

	res = doReq(t, h, http.MethodGet, "/events?service=none")
	assert.Equal(t, "[]\n", res.Body.String())

	res = doReq(t, h, http.MethodGet, "/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestEventsAndHistoryDisabled(t *testing.T) {
	h := setupRouter(t, newController(), Options{})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/events").Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/history").Code)
}

func TestHistory(t *testing.T) {
	code := 1
	hist := &fakeHistory{recs: []history.Record{{Service: "api", Kind: "crashed", ExitCode: &code}}}
	h := setupRouter(t, newController(), Options{History: hist})

	rec := doReq(t, h, http.MethodGet, "/history?service=api&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", hist.got.service)
	assert.Equal(t, 5, hist.got.limit)
	var got []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 1, *got[0].ExitCode)

	hist.err = errors.New("db down")
	rec = doReq(t, h, http.MethodGet, "/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, defaultLimit, hist.got.limit)
}
