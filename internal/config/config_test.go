package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/dou_test")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("KEYPROTECT_PROVIDER", "local")
	t.Setenv("KEYPROTECT_LOCAL_MASTER_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.TxConfirmTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SMSCodeTTL)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"missing_dsn", "POSTGRES_DSN"},
		{"missing_rpc", "RPC_URL"},
		{"missing_jwt_secret", "JWT_SECRET"},
		{"missing_master_key", "KEYPROTECT_LOCAL_MASTER_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateKeyProtectProviders(t *testing.T) {
	setRequiredEnv(t)

	t.Run("unknown_provider", func(t *testing.T) {
		t.Setenv("KEYPROTECT_PROVIDER", "hsm")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("aws_requires_key_id", func(t *testing.T) {
		t.Setenv("KEYPROTECT_PROVIDER", "aws-kms")
		t.Setenv("KEYPROTECT_AWS_KMS_KEY_ID", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("vault_requires_addr_and_key", func(t *testing.T) {
		t.Setenv("KEYPROTECT_PROVIDER", "vault")
		t.Setenv("KEYPROTECT_VAULT_ADDR", "http://localhost:8200")
		t.Setenv("KEYPROTECT_VAULT_TRANSIT_KEY", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("shamir_shares_satisfy_local", func(t *testing.T) {
		t.Setenv("KEYPROTECT_LOCAL_MASTER_KEY", "")
		t.Setenv("KEYPROTECT_MASTER_KEY_SHARES", "aaaa, bbbb, cccc")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"aaaa", "bbbb", "cccc"}, cfg.MasterKeyShares)
	})
}
