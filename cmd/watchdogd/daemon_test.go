package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watchdogd.pid")
	require.NoError(t, writePidFile(pidFile, os.Getpid()))

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, removePidFile(pidFile))
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, removePidFile(pidFile), "missing file is fine")
	assert.NoError(t, removePidFile(""))
}

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--config", "w.toml", "--pidfile", "/old.pid", "--logfile=/old.log"}
	got := daemonArgs(in, "/run/w.pid", "/var/log/w.log")
	assert.Equal(t, []string{"serve", "--config", "w.toml", "--pidfile", "/run/w.pid", "--logfile", "/var/log/w.log"}, got)

	assert.Equal(t, []string{"serve"}, daemonArgs([]string{"serve", "--daemonize=true"}, "", ""))
}
