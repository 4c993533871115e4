package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginFinishRoundTrip(t *testing.T) {
	s := openStore(t)

	run, err := s.Begin("lab1", ActionBreak, false)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	require.NoError(t, s.Record(run, "SP-Router1", "shutdown_northbound", "interface Ethernet0/0", true))
	require.NoError(t, s.Record(run, "Branch-FW", "insert_block_all_rule", nil, false))
	require.NoError(t, s.Finish(run, true))

	runs, err := s.Recent("lab1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, ActionBreak, runs[0].Action)
	assert.True(t, runs[0].OK)
	assert.False(t, runs[0].FinishedAt.IsZero())

	events, err := s.Events(run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "SP-Router1", events[0].Device)
	assert.Equal(t, "shutdown_northbound", events[0].Name)
	assert.True(t, events[0].OK)
	assert.False(t, events[1].OK)
}

func TestRecordStructuredDetail(t *testing.T) {
	s := openStore(t)
	run, err := s.Begin("lab1", ActionBreak, false)
	require.NoError(t, err)

	detail := map[string]any{"port": "Et0/3", "vlan": 2931}
	require.NoError(t, s.Record(run, "Branch-Switch1", "access_vlan", detail, true))

	events, err := s.Events(run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"port":"Et0/3","vlan":2931}`, events[0].Detail)
}

func TestRecentScopedToLab(t *testing.T) {
	s := openStore(t)
	r1, _ := s.Begin("lab1", ActionBreak, false)
	s.Finish(r1, true)
	r2, _ := s.Begin("lab2", ActionBreak, false)
	s.Finish(r2, true)

	runs, err := s.Recent("lab1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "lab1", runs[0].Lab)
}

func TestLastBreak(t *testing.T) {
	s := openStore(t)

	_, err := s.LastBreak("lab1")
	assert.ErrorIs(t, err, ErrNotFound)

	br, _ := s.Begin("lab1", ActionBreak, false)
	s.Finish(br, true)

	got, err := s.LastBreak("lab1")
	require.NoError(t, err)
	assert.Equal(t, br.ID, got.ID)

	// A successful restore clears it.
	rs, _ := s.Begin("lab1", ActionRestore, false)
	s.Finish(rs, true)

	_, err = s.LastBreak("lab1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastBreakIgnoresDryRuns(t *testing.T) {
	s := openStore(t)
	dr, _ := s.Begin("lab1", ActionBreak, true)
	s.Finish(dr, true)

	_, err := s.LastBreak("lab1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "sub", "journal.db"))
	require.Error(t, err)
}
