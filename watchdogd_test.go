package watchdogd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/history/sqlite"
	"github.com/loykin/watchdogd/internal/supervisor"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "watchdogd.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDaemonRunsAndRecordsHistory(t *testing.T) {
	requireUnix(t)
	sleep, err := exec.LookPath("sleep")
	require.NoError(t, err)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	crashPath := filepath.Join(dir, "crash.log")
	path := writeConfig(t, dir, fmt.Sprintf(`
[settings]
poll_interval = 0.05
stop_timeout = 1

[server]
enabled = true
listen = "127.0.0.1:0"

[crash_log]
enabled = true
path = %q

[[history]]
dsn = "sqlite://%s"

[[services]]
name = "sleeper"
command = %q
args = ["30"]
snapshot_capture_duration = 0.1

[[services]]
name = "off"
command = "/nonexistent"
enabled = false
`, crashPath, dbPath, sleep))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	d, err := NewDaemon(cfg)
	require.NoError(t, err)
	assert.Nil(t, d.Gatherer(), "metrics disabled")
	require.NotNil(t, d.Events())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := d.Supervisor().State("sleeper")
		return err == nil && st.Phase == supervisor.PhaseRunning
	}, 5*time.Second, 20*time.Millisecond)

	ts := httptest.NewServer(d.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/services")
	require.NoError(t, err)
	var states []State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	_ = resp.Body.Close()
	require.Len(t, states, 1, "disabled services are not supervised")
	assert.Equal(t, "sleeper", states[0].Name)
	assert.Equal(t, 1, states[0].Tracked)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	kinds := []events.Kind{}
	for _, e := range d.Events().Recent(0) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{events.Started, events.Stopped}, kinds)

	store, err := sqlite.New(dbPath, "")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	recs, err := store.Recent(context.Background(), "sleeper", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "stopped", recs[0].Kind)
	assert.Equal(t, "started", recs[1].Kind)
}

func TestDaemonCrashLogAndExtraSink(t *testing.T) {
	requireUnix(t)
	falseBin, err := exec.LookPath("false")
	require.NoError(t, err)

	dir := t.TempDir()
	crashPath := filepath.Join(dir, "crash.log")
	path := writeConfig(t, dir, fmt.Sprintf(`
[settings]
poll_interval = 0.05

[crash_log]
enabled = true
path = %q

[[services]]
name = "flaky"
command = %q
auto_restart = false
snapshot_capture_duration = 0.05
`, crashPath, falseBin))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	rec := events.NewRecorder(16)
	d, err := NewDaemon(cfg, WithSink(rec))
	require.NoError(t, err)
	assert.Nil(t, d.Events(), "server disabled")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, e := range rec.Recent(0) {
			if e.Kind == events.Crashed {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	b, err := os.ReadFile(crashPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "flaky")
}

func TestNewDaemonBadHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[[history]]
dsn = "mysql://nope"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	_, err = NewDaemon(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported DSN")
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[[services]]
name = ""
command = "x"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}
