package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "mediator.yaml")

	configContent := `server:
  listen_address: "0.0.0.0:9000"
  api_prefix: "/mediator"
  admin_did: "did:example:admin"

database:
  url: "postgres://localhost/atm"
  pool_size: 20

security:
  acl_mode: "explicit_allow"
  jwt_authorization_secret: "test-secret"

streaming:
  enabled: true
  uuid: "11111111-1111-1111-1111-111111111111"

logging:
  level: "debug"
  format: "text"
  output: "stderr"`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddress)
	assert.Equal(t, "did:example:admin", cfg.Server.AdminDID)
	assert.Equal(t, 20, cfg.Database.PoolSize)
	assert.Equal(t, ACLModeExplicitAllow, cfg.Security.ACLMode)
	assert.True(t, cfg.Streaming.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults fill in whatever the file left unset.
	assert.Equal(t, 10*time.Second, cfg.DIDResolver.NetworkTimeout)
	assert.Equal(t, 1024*1024, cfg.Limits.MessageSize)
}

func TestLoad_EnvVarSubstitution(t *testing.T) {
	os.Setenv("TEST_DB_URL", "postgres://env-host/atm")
	defer os.Unsetenv("TEST_DB_URL")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "mediator.yaml")
	configContent := `server:
  listen_address: "0.0.0.0:8080"
database:
  url: "${TEST_DB_URL}"
security:
  acl_mode: "explicit_deny"
logging:
  level: "info"
  format: "json"`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/atm", cfg.Database.URL)
}

func TestLoad_ATMEnvOverrides(t *testing.T) {
	os.Setenv("ATM_SERVER_LISTEN_ADDRESS", "127.0.0.1:7777")
	os.Setenv("ATM_LOG_LEVEL", "warn")
	defer func() {
		os.Unsetenv("ATM_SERVER_LISTEN_ADDRESS")
		os.Unsetenv("ATM_LOG_LEVEL")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "mediator.yaml")
	configContent := `server:
  listen_address: "0.0.0.0:8080"
security:
  acl_mode: "explicit_deny"
logging:
  level: "info"
  format: "json"`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddress)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.Server.ListenAddress = "0.0.0.0:8080"
		cfg.Security.ACLMode = ACLModeExplicitDeny
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "missing listen address",
			mutate: func(c *Config) {
				c.Server.ListenAddress = ""
			},
			wantErr: "listen_address is required",
		},
		{
			name: "invalid acl mode",
			mutate: func(c *Config) {
				c.Security.ACLMode = "bogus"
			},
			wantErr: "invalid security.acl_mode",
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: "invalid logging.level",
		},
		{
			name: "streaming enabled without uuid",
			mutate: func(c *Config) {
				c.Streaming.Enabled = true
				c.Streaming.UUID = ""
			},
			wantErr: "streaming.uuid is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_SUBST_VAR", "resolved")
	defer os.Unsetenv("TEST_SUBST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${TEST_SUBST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${NONEXISTENT_VAR:fallback}"))
	assert.Equal(t, "plain", SubstituteEnvVars("plain"))
}

func TestGetEnvironment(t *testing.T) {
	os.Unsetenv("ATM_ENV")
	assert.Equal(t, "development", GetEnvironment())

	os.Setenv("ATM_ENV", "Production")
	defer os.Unsetenv("ATM_ENV")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
}
