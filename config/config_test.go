package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
redis:
  host: "localhost"
  port: 6379
loadtrack:
  http_addr: ":8080"
  kafka_consumer_group: "track-agent"
  device_id: "truck-17"
  order_cache_ttl_seconds: 600
  tenant_id: "t1"
  qr_secret: "from-yaml"
  jwt_secret: "jwt-from-yaml"
  position_source: "replay"
  position_replay_file: "track.jsonl"
  tracking_interval_seconds: 15
  tracking_min_distance_meters: 25.5
  flush_schedule: "*/30 * * * * *"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.LoadTrack.HTTPAddr)
	require.Equal(t, "truck-17", cfg.LoadTrack.DeviceID)
	require.Equal(t, "from-yaml", cfg.LoadTrack.QRSecret)
	require.Equal(t, 25.5, cfg.LoadTrack.TrackingMinDistanceMeters)
	require.Equal(t, "*/30 * * * * *", cfg.LoadTrack.FlushSchedule)

	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.PostgresDSN())
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers())
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("LOADTRACK_QR_SECRET", "from-env")
	t.Setenv("LOADTRACK_DB_PASSWORD", "env-pass")

	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.LoadTrack.QRSecret)
	require.Equal(t, "jwt-from-yaml", cfg.LoadTrack.JWTSecret)
	require.Equal(t, "env-pass", cfg.Database.Password)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("LOADTRACK_JWT_SECRET=dotenv-jwt\n"), 0o600))

	// переменная из .env ставится только если её ещё нет
	t.Setenv("LOADTRACK_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("LOADTRACK_JWT_SECRET"))
	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), env))

	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "dotenv-jwt", cfg.LoadTrack.JWTSecret)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
