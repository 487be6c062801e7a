package sqldb

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	db, dialect, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, SQLite, dialect)

	_, err = db.Exec(`CREATE TABLE t (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, _, err := Open("mysql://nope")
	assert.Error(t, err)
}

func TestOpenSQLiteURL(t *testing.T) {
	db, dialect, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, SQLite, dialect)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))

	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))

	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: receipts.receipt_id")))
}

func TestSQLiteUniqueViolationDetected(t *testing.T) {
	db, _, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}
