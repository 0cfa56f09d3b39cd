//go:build !windows

package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdogd/internal/env"
	"github.com/loykin/watchdogd/internal/service"
)

func TestBuildCommandLine(t *testing.T) {
	cases := []struct {
		line  string
		extra []string
		path  string
		args  []string
	}{
		{"npm run dev", nil, "npm", []string{"run", "dev"}},
		{"npm run dev", []string{"--port", "3000"}, "npm", []string{"run", "dev", "--port", "3000"}},
		{"npm run build && npm start", nil, "/bin/sh", []string{"-c", "npm run build && npm start"}},
		{"sh -c 'echo hi > out'", nil, "/bin/sh", []string{"-c", "echo hi > out"}},
		{"echo $HOME", []string{"it's"}, "/bin/sh", []string{"-c", `echo $HOME 'it'\''s'`}},
	}
	for _, c := range cases {
		path, args := BuildCommandLine(c.line, c.extra)
		assert.Equal(t, c.path, path, c.line)
		assert.Equal(t, c.args, args, c.line)
	}
}

func TestLaunchWritesOutputWithEnvironment(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	exe := writeScript(t, dir, "greet", "#!/bin/sh\necho \"hello $GREETING\"\n")
	base := env.Isolated()
	base.Set("PATH", os.Getenv("PATH"))
	def := service.Definition{
		Name:        "greet",
		Command:     exe,
		Environment: map[string]string{"GREETING": "${WHO}", "WHO": "world"},
		LogDir:      logDir,
	}
	sp, err := Launch(def, Options{Env: base})
	require.NoError(t, err)
	require.NotNil(t, sp.Cmd)
	assert.Greater(t, sp.PID, 0)
	assert.False(t, sp.StartedAt.IsZero())
	require.NoError(t, sp.Cmd.Wait())
	require.NoError(t, sp.Close())

	b, err := os.ReadFile(filepath.Join(logDir, "greet.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(b))
}

func TestWaitNotHeldByDetachedDescendant(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "forker", "#!/bin/sh\n(sleep 2) &\necho started\n")
	def := service.Definition{Name: "forker", Command: exe, LogDir: dir}
	sp, err := Launch(def, Options{})
	require.NoError(t, err)

	began := time.Now()
	require.NoError(t, sp.Wait())
	assert.Less(t, time.Since(began), time.Second, "reaping waited on the descendant's output")

	require.NoError(t, sp.Close())
	b, err := os.ReadFile(filepath.Join(dir, "forker.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(b))
}

func TestLaunchInterpreterInScriptDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "where.sh", "pwd\n")
	def := service.Definition{
		Name:        "where",
		Kind:        service.KindInterpreterScript,
		Command:     script,
		Interpreter: "/bin/sh",
		LogDir:      dir,
	}
	sp, err := Launch(def, Options{})
	require.NoError(t, err)
	require.NoError(t, sp.Cmd.Wait())
	require.NoError(t, sp.Close())
	b, err := os.ReadFile(filepath.Join(dir, "where.stdout.log"))
	require.NoError(t, err)
	real, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir + "\n", real + "\n"}, string(b))
}
