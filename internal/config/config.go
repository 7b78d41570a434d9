package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Account holds the connection parameters of one mail account. The
// secret itself is never part of the configuration; it comes from the
// credential provider at connect time.
type Account struct {
	ID       string
	Address  string
	IMAPHost string
	IMAPPort int
	IMAPTLS  bool
	SMTPHost string
	SMTPPort int
	SMTPTLS  bool
	// Insecure drops TLS entirely on the submission session. Only
	// meaningful for local test servers.
	Insecure bool
}

// Config holds the engine settings.
type Config struct {
	Environment     string
	DataDir         string
	CacheDir        string
	AttachmentsDir  string
	CacheMaxAgeDays int
	FetchPageSize   int
	Account         Account
}

// NewConfig loads configuration from the environment, reading a .env
// file first in development.
func NewConfig() (*Config, error) {
	env := os.Getenv("KESTREL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	dataDir := getEnvOrDefault("KESTREL_DATA_DIR", defaultDataDir())

	config := &Config{
		Environment:     env,
		DataDir:         dataDir,
		CacheDir:        getEnvOrDefault("KESTREL_CACHE_DIR", filepath.Join(dataDir, "cache")),
		AttachmentsDir:  getEnvOrDefault("KESTREL_ATTACHMENTS_DIR", filepath.Join(dataDir, "attachments")),
		CacheMaxAgeDays: getEnvIntOrDefault("KESTREL_CACHE_MAX_AGE_DAYS", 30),
		FetchPageSize:   getEnvIntOrDefault("KESTREL_FETCH_PAGE_SIZE", 50),
		Account: Account{
			ID:       getEnvOrDefault("KESTREL_ACCOUNT_ID", os.Getenv("KESTREL_ADDRESS")),
			Address:  os.Getenv("KESTREL_ADDRESS"),
			IMAPHost: os.Getenv("KESTREL_IMAP_HOST"),
			IMAPPort: getEnvIntOrDefault("KESTREL_IMAP_PORT", 993),
			IMAPTLS:  getEnvBoolOrDefault("KESTREL_IMAP_TLS", true),
			SMTPHost: os.Getenv("KESTREL_SMTP_HOST"),
			SMTPPort: getEnvIntOrDefault("KESTREL_SMTP_PORT", 587),
			SMTPTLS:  getEnvBoolOrDefault("KESTREL_SMTP_TLS", false),
		},
	}

	// Fill server details from the provider presets when the address
	// belongs to a known provider and nothing was set explicitly.
	if provider := DetectProvider(config.Account.Address); provider != nil {
		if config.Account.IMAPHost == "" {
			config.Account.IMAPHost = provider.IMAPHost
			config.Account.IMAPPort = provider.IMAPPort
			config.Account.IMAPTLS = provider.IMAPTLS
		}
		if config.Account.SMTPHost == "" {
			config.Account.SMTPHost = provider.SMTPHost
			config.Account.SMTPPort = provider.SMTPPort
			config.Account.SMTPTLS = provider.SMTPTLS
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Account.Address == "" {
		return fmt.Errorf("KESTREL_ADDRESS is required")
	}

	if c.Account.IMAPHost == "" {
		return fmt.Errorf("KESTREL_IMAP_HOST is required for unknown providers")
	}

	if c.Account.SMTPHost == "" {
		return fmt.Errorf("KESTREL_SMTP_HOST is required for unknown providers")
	}

	if c.CacheMaxAgeDays <= 0 {
		return fmt.Errorf("KESTREL_CACHE_MAX_AGE_DAYS must be positive")
	}

	if c.FetchPageSize <= 0 {
		return fmt.Errorf("KESTREL_FETCH_PAGE_SIZE must be positive")
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kestrel"
	}
	return filepath.Join(home, ".kestrel")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
