package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pitmetrics/internal/database"
)

func TestBackupJob(t *testing.T) {
	store := newMemoryStore()
	svc := NewBackupService(store, []*database.DB{openTestDB(t, database.NamePIT)}, t.TempDir(), "", testLogger())

	job := NewBackupJob(svc, 30, testLogger())
	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.objects, 1)
}

func TestMaintenanceJob(t *testing.T) {
	db := openTestDB(t, database.NamePIT)

	job := NewMaintenanceJob([]*database.DB{db, nil}, t.TempDir(), testLogger())
	assert.Equal(t, "maintenance", job.Name())
	assert.NoError(t, job.Run())
}

func TestMaintenanceJob_MissingDataDir(t *testing.T) {
	job := NewMaintenanceJob(nil, "/definitely/not/here", testLogger())
	assert.Error(t, job.Run())
}
