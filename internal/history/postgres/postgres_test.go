package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/watchdogd/internal/events"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start PostgreSQL container")
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr, "")
	require.NoError(t, err)
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC().Truncate(time.Millisecond)
	code := 1
	require.NoError(t, sink.Send(ctx, events.Event{
		Time: now, Service: "api", Kind: events.Started, PID: 12345, StartedAt: now,
	}))
	require.NoError(t, sink.Send(ctx, events.Event{
		Time: now.Add(time.Second), Service: "api", Kind: events.Crashed, PID: 12345,
		ExitCode: &code, Uptime: time.Second, CrashCount: 1,
	}))

	recs, err := sink.Recent(ctx, "api", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "crashed", recs[0].Kind)
	require.NotNil(t, recs[0].ExitCode)
	assert.Equal(t, 1, *recs[0].ExitCode)
	require.NotNil(t, recs[1].StartedAt)
	assert.True(t, recs[1].StartedAt.Equal(now))

	// schema creation is idempotent
	again, err := New(connStr, "")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("", "")
	require.Error(t, err)
}
