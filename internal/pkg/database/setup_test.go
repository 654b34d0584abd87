package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

func TestOpenMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer Close(db)

	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m))
	}
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, Close(db1))

	db2, err := Open(path)
	require.NoError(t, err)
	defer Close(db2)

	var mode string
	require.NoError(t, db2.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

func TestDSN(t *testing.T) {
	assert.Contains(t, DSN("/tmp/a.db"), "file:/tmp/a.db?")
	assert.Contains(t, DSN("/tmp/a.db"), "_txlock=immediate")
}
