package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration loaded from the environment
type Config struct {
	// Database
	PostgresDSN string

	// Chain
	RPCURL           string
	TxConfirmTimeout time.Duration

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Key protection backend: local, aws-kms, or vault
	KeyProtectProvider  string
	LocalMasterKeyHex   string
	MasterKeyShares     []string // Shamir shares, alternative to the plain master key
	AWSKMSKeyID         string
	AWSKMSRegion        string
	VaultAddress        string
	VaultToken          string
	VaultTransitKey     string

	// SMS
	SMSCodeTTL time.Duration

	// Rate limiting for the unauthenticated paths
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	// Server
	Port int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		RPCURL:             getEnv("RPC_URL", ""),
		TxConfirmTimeout:   time.Duration(getEnvInt("TX_CONFIRM_TIMEOUT_SECONDS", 90)) * time.Second,
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTTTL:             time.Duration(getEnvInt("JWT_TTL_MINUTES", 24*60)) * time.Minute,
		KeyProtectProvider: getEnv("KEYPROTECT_PROVIDER", "local"),
		LocalMasterKeyHex:  getEnv("KEYPROTECT_LOCAL_MASTER_KEY", ""),
		MasterKeyShares:    getEnvList("KEYPROTECT_MASTER_KEY_SHARES"),
		AWSKMSKeyID:        getEnv("KEYPROTECT_AWS_KMS_KEY_ID", ""),
		AWSKMSRegion:       getEnv("KEYPROTECT_AWS_KMS_REGION", ""),
		VaultAddress:       getEnv("KEYPROTECT_VAULT_ADDR", ""),
		VaultToken:         getEnv("KEYPROTECT_VAULT_TOKEN", ""),
		VaultTransitKey:    getEnv("KEYPROTECT_VAULT_TRANSIT_KEY", ""),
		SMSCodeTTL:         time.Duration(getEnvInt("SMS_CODE_TTL_SECONDS", 300)) * time.Second,
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		Port:               getEnvInt("PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.KeyProtectProvider {
	case "local":
		if c.LocalMasterKeyHex == "" && len(c.MasterKeyShares) == 0 {
			return fmt.Errorf("KEYPROTECT_LOCAL_MASTER_KEY or KEYPROTECT_MASTER_KEY_SHARES is required for the local provider")
		}
	case "aws-kms":
		if c.AWSKMSKeyID == "" {
			return fmt.Errorf("KEYPROTECT_AWS_KMS_KEY_ID is required for the aws-kms provider")
		}
	case "vault":
		if c.VaultAddress == "" || c.VaultTransitKey == "" {
			return fmt.Errorf("KEYPROTECT_VAULT_ADDR and KEYPROTECT_VAULT_TRANSIT_KEY are required for the vault provider")
		}
	default:
		return fmt.Errorf("KEYPROTECT_PROVIDER must be 'local', 'aws-kms', or 'vault', got: %s", c.KeyProtectProvider)
	}

	if c.TxConfirmTimeout <= 0 {
		return fmt.Errorf("TX_CONFIRM_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvList gets a comma-separated environment variable
func getEnvList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
