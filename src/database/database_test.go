package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateInMemory(t *testing.T) {
	db, err := Open(":memory:", 4)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	// Running again is a no-op.
	require.NoError(t, Migrate(db))

	for _, table := range []string{
		"assets", "invoices", "line_items", "positions", "entry_lots", "operations",
		"exit_records", "operation_groups", "operation_group_items", "source_mappings",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
