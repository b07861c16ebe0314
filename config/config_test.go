package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testKey    = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://authcore@localhost:5432/authcore")
	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("AUTH_ENCRYPTION_KEY", testKey)
}

func TestLoadDefaultsAndEnvironment(t *testing.T) {
	requiredEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("ENVIRONMENT", "production")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", s.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, s.Auth.AccessTTL)
	assert.Equal(t, 15*time.Second, s.HTTP.ShutdownTimeout)
	assert.Equal(t, "7d", s.Auth.RefreshExpiresIn)
	assert.Equal(t, int32(10), s.Database.MaxConns)
	assert.True(t, s.Production())
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/authcore")
	t.Setenv("AUTH_JWT_SECRET", "short")
	t.Setenv("AUTH_ENCRYPTION_KEY", testKey)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestEnvironmentBeatsFile(t *testing.T) {
	requiredEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	yaml := strings.Join([]string{
		"http:",
		"  addr: \":7000\"",
		"devices:",
		"  frontend_url: https://app.example.test",
		"smtp:",
		"  host: smtp.example.test",
		"  from: alerts@example.test",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("HTTP_ADDR", ":7100")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", s.HTTP.Addr)
	assert.Equal(t, "https://app.example.test", s.Devices.FrontendURL)

	smtp, ok := s.Mail()
	require.True(t, ok)
	assert.Equal(t, "smtp.example.test", smtp.Host)
	assert.Equal(t, 587, smtp.Port)
}

func TestLoadMissingFile(t *testing.T) {
	requiredEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEngineConfigValidates(t *testing.T) {
	requiredEnv(t)
	t.Setenv("DEVICES_ACTION_BASE_URL", "https://api.example.test/api/v1/devices/action")

	s, err := Load("")
	require.NoError(t, err)

	cfg := s.Engine()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []byte(testSecret), cfg.Tokens.PrivateKey)
	assert.Equal(t, "localhost", cfg.WebAuthn.RPID)
	assert.False(t, cfg.Security.ProductionMode)

	_, ok := s.Mail()
	assert.False(t, ok, "no relay without smtp.host")
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"loud":  slog.LevelInfo,
	} {
		s := Server{LogLevel: in}
		assert.Equal(t, want, s.SlogLevel(), in)
	}
}
