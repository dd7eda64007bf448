package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-timer/internal/adapter/sse"
	"task-timer/internal/broadcast"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, broadcast.DefaultHeartbeat, cfg.Stream.Heartbeat)
	assert.Equal(t, sse.DefaultBuffer, cfg.Stream.Buffer)
	assert.Error(t, cfg.ValidateServer())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task-timer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
store:
  driver: mysql
mysql:
  dsn: "u:p@tcp(db:3306)/timer?parseTime=true"
stream:
  heartbeat: 10s
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`), 0o644))

	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("STREAM_BUFFER", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "u:p@tcp(db:3306)/timer?parseTime=true", cfg.MySQL.DSN)
	assert.Equal(t, 10*time.Second, cfg.Stream.Heartbeat)
	assert.Equal(t, 4, cfg.Stream.Buffer)
	assert.NoError(t, cfg.ValidateServer())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("mysql without dsn", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mysql")
		_, err := Load("")
		assert.ErrorContains(t, err, "MYSQL_DSN")
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mongo")
		_, err := Load("")
		assert.ErrorContains(t, err, "STORE_DRIVER")
	})
	t.Run("bad heartbeat", func(t *testing.T) {
		t.Setenv("HEARTBEAT_INTERVAL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "HEARTBEAT_INTERVAL")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
