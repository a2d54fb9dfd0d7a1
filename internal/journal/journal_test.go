package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	return j, path
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.Record(Record{Op: "add", Host: "a.local", Port: 3000, Success: true, Message: "ok"}))
	require.NoError(t, j.Record(Record{Op: "remove", Host: "a.local", Success: false, Code: "not_found", Message: "missing"}))
	require.NoError(t, j.Record(Record{Op: "add", Host: "b.local", Port: 4000, Success: true, Message: "ok"}))

	all, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b.local", all[0].Host)
	assert.Equal(t, "remove", all[1].Op)
	assert.Equal(t, "not_found", all[1].Code)
	assert.Equal(t, "a.local", all[2].Host)
	assert.Equal(t, fixed, all[2].Time)

	_, err = uuid.Parse(all[0].ID)
	assert.NoError(t, err)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	two, err := j.Recent(2)
	require.NoError(t, err)
	assert.Equal(t, all[:2], two)
}

func TestJournal_KeepsExplicitFields(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	at := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, j.Record(Record{ID: "fixed-id", Time: at, Op: "list", Success: true}))

	recs, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fixed-id", recs[0].ID)
	assert.Equal(t, at, recs[0].Time)
}

func TestJournal_Reopen(t *testing.T) {
	j, path := openTemp(t)
	require.NoError(t, j.Record(Record{Op: "add", Host: "keep.local", Success: true}))
	require.NoError(t, j.Close())

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep.local", recs[0].Host)
}

func TestJournal_ReplacesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0600))

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
