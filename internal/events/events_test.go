package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	var got []Kind
	var mu sync.Mutex
	ok := SinkFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
		return nil
	})
	e1 := errors.New("db down")
	e2 := errors.New("disk full")
	s := Multi(ok, nil, SinkFunc(func(context.Context, Event) error { return e1 }), ok,
		SinkFunc(func(context.Context, Event) error { return e2 }))

	err := s.Send(context.Background(), Event{Kind: Started})
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, []Kind{Started, Started}, got)
}

func TestRecorderRing(t *testing.T) {
	r := NewRecorder(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Send(context.Background(), Event{PID: i, Service: []string{"a", "b"}[i%2]}))
	}
	recent := r.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{recent[0].PID, recent[1].PID, recent[2].PID})

	last := r.Recent(2)
	assert.Equal(t, 4, last[0].PID)
	assert.Equal(t, 5, last[1].PID)

	a := r.Filter("b", 0)
	require.Len(t, a, 2)
	assert.Equal(t, 3, a[0].PID)
	assert.Equal(t, 5, a[1].PID)
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder(16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Send(context.Background(), Event{Kind: Started})
				_ = r.Recent(4)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.Recent(0), 16)
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	code := 2
	require.NoError(t, s.Send(context.Background(), Event{Service: "web", Kind: Started}))
	require.NoError(t, s.Send(context.Background(), Event{Service: "web", Kind: Crashed, ExitCode: &code, PID: 42}))
	out := buf.String()
	assert.NotContains(t, out, "event=started")
	assert.Contains(t, out, "event=crashed")
	assert.Contains(t, out, "exit_code=2")
	assert.Contains(t, out, "pid=42")
}

func TestCrashLogWritesOnlyCrashes(t *testing.T) {
	var buf bytes.Buffer
	cl := NewCrashLog(&buf)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	code := 139
	require.NoError(t, cl.Send(context.Background(), Event{Kind: Started, Service: "api"}))
	require.NoError(t, cl.Send(context.Background(), Event{
		Time:        started.Add(90 * time.Second),
		Kind:        Crashed,
		Service:     "api",
		PID:         1234,
		ExitCode:    &code,
		Uptime:      90*time.Second + 400*time.Millisecond,
		StartedAt:   started,
		ServiceKind: "executable",
		Command:     "/srv/api",
	}))
	require.NoError(t, cl.Send(context.Background(), Event{Kind: Crashed, Service: "api"}))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "CRASH EVENT #"))
	assert.Contains(t, out, "CRASH EVENT #1\n")
	assert.Contains(t, out, "CRASH EVENT #2\n")
	assert.Contains(t, out, "Timestamp:     2026-03-01 10:01:30\n")
	assert.Contains(t, out, "PID:           1234\n")
	assert.Contains(t, out, "Exit Code:     139\n")
	assert.Contains(t, out, "Uptime:        1m30s\n")
	assert.Contains(t, out, "Command:       /srv/api\n")
	assert.Contains(t, out, "Exit Code:     unknown\n")
}
