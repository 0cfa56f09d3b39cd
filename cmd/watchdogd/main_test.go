package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "validate", "status", "start", "stop", "restart", "events"} {
		assert.Contains(t, out, name)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "frobnicate")
	assert.Error(t, err)
}
