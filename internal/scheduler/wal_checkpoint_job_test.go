package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pitmetrics/internal/database"
)

func TestWALCheckpointJob_Name(t *testing.T) {
	job := NewWALCheckpointJob(testLogger())
	assert.Equal(t, "wal_checkpoint", job.Name())
}

func TestWALCheckpointJob_Run_NoDatabases(t *testing.T) {
	job := NewWALCheckpointJob(testLogger(), nil, nil)
	assert.NoError(t, job.Run()) // Should handle nil databases gracefully
}

func TestWALCheckpointJob_Run(t *testing.T) {
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "pit.db"),
		Name: database.NamePIT,
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	job := NewWALCheckpointJob(testLogger(), db)
	assert.NoError(t, job.Run())
}
