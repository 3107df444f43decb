package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/settlement"
	"github.com/argus-labs/arena/pkg/tilemap"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMatchIDCmd(t *testing.T) {
	t.Parallel()

	out, err := run(t, "matchid", "alice", "bob", "--at", "1717264800000")
	require.NoError(t, err)
	want := settlement.GenerateMatchID("alice", "bob", time.UnixMilli(1717264800000))
	assert.Equal(t, want, strings.TrimSpace(out))

	_, err = run(t, "matchid", "alice")
	require.Error(t, err)
}

func TestMapsCheckCmd(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), "absent.env")
	out, err := run(t, "maps", "check", "--env-file", envFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(tilemap.EmbeddedSource{}.Keys()))

	_, err = run(t, "maps", "check", "--env-file", envFile, "no-such-map")
	require.Error(t, err)
}
