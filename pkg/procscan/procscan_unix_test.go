//go:build !windows

package procscan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePSOutput(t *testing.T) {
	output := `    1 /sbin/init
  4242 node /srv/app/node_modules/.bin/next dev -p 3001
 91011 next-server (v14.2.3)
garbage line without pid
   -5 negative
`
	procs := parsePSOutput(output)
	require.Len(t, procs, 3)

	assert.Equal(t, 1, procs[0].PID)
	assert.Equal(t, "/sbin/init", procs[0].Command)

	assert.Equal(t, 4242, procs[1].PID)
	assert.Contains(t, procs[1].Command, "next dev -p 3001")

	assert.Equal(t, 91011, procs[2].PID)
	assert.Equal(t, "next-server (v14.2.3)", procs[2].Command)
}

func TestParsePSOutputEmpty(t *testing.T) {
	assert.Empty(t, parsePSOutput(""))
	assert.Empty(t, parsePSOutput("\n\n"))
}

func TestListIncludesSelf(t *testing.T) {
	procs, err := List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, procs, "the process table always lists at least this test binary")
	for _, p := range procs {
		assert.Greater(t, p.PID, 0)
	}
}
