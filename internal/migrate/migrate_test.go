package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("0002_create_task_sessions.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = parseVersion("create.sql")
	assert.Error(t, err)
	_, err = parseVersion("abc_create.sql")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsAreNumbered(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "sql/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	seen := map[int]bool{}
	for _, f := range files {
		v, err := parseVersion(f[len("sql/"):])
		require.NoError(t, err, f)
		assert.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}
}
