package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"RestoPOS/app/security"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Database Configuration (server mode)
	Database DatabaseConfig `json:"database"`

	// Order server settings
	Server ServerConfig `json:"server"`

	// Till settings
	Till TillConfig `json:"till"`

	// Business Information
	Business BusinessConfig `json:"business"`

	// System Configuration
	System SystemConfig `json:"system"`

	// First run flag
	FirstRun bool `json:"first_run"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `json:"driver"` // "sqlite" or "postgres"
	Path     string `json:"path"`   // sqlite file
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
	URL      string `json:"url,omitempty"`
	SeedDemo bool   `json:"seed_demo"`
}

// ServerConfig holds order server settings
type ServerConfig struct {
	Port         string   `json:"port"`
	APIKeyHashes []string `json:"api_key_hashes"` // bcrypt hashes of accepted till keys
	ReceiptsDir  string   `json:"receipts_dir"`
	AnnounceMDNS bool     `json:"announce_mdns"`
	InstanceName string   `json:"instance_name"`
}

// TillConfig holds the settings of one order-taking terminal
type TillConfig struct {
	ServerURL          string `json:"server_url"` // empty: discover via mDNS
	APIKey             string `json:"api_key"`
	TableID            uint   `json:"table_id"`
	SyncDelayMS        int    `json:"sync_delay_ms"`
	DrainAttempts      int    `json:"drain_attempts"`
	RequestTimeoutSec  int    `json:"request_timeout_sec"`
	DiscoveryTimeoutMS int    `json:"discovery_timeout_ms"`
	DraftDBPath        string `json:"draft_db_path"`
}

// BusinessConfig holds business information printed on receipts
type BusinessConfig struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// SystemConfig holds system settings
type SystemConfig struct {
	DataPath         string `json:"data_path"`
	LogDir           string `json:"log_dir"`
	LogRetentionDays int    `json:"log_retention_days"`
}

// SyncDelay is the debounce delay for order writes
func (t TillConfig) SyncDelay() time.Duration {
	return time.Duration(t.SyncDelayMS) * time.Millisecond
}

// RequestTimeout bounds every request to the order server
func (t TillConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSec) * time.Second
}

// DiscoveryTimeout bounds mDNS discovery of the order server
func (t TillConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(t.DiscoveryTimeoutMS) * time.Millisecond
}

// DefaultDataDir returns POS_DATA_DIR or the per-user config directory
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("POS_DATA_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		homeDir, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", fmt.Errorf("could not determine home directory: %w", homeErr)
		}
		base = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(base, "RestoPOS"), nil
}

// GetConfigPath returns CONFIG_FILE or config.json inside dataDir
func GetConfigPath(dataDir string) string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	return filepath.Join(dataDir, "config.json")
}

// Default returns the first-run configuration rooted at dataDir
func Default(dataDir string) *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     filepath.Join(dataDir, "restopos.db"),
			Host:     "localhost",
			Port:     5432,
			Database: "restopos",
			Username: "postgres",
			SSLMode:  "disable",
			SeedDemo: true,
		},
		Server: ServerConfig{
			Port:         ":8080",
			ReceiptsDir:  filepath.Join(dataDir, "receipts"),
			AnnounceMDNS: true,
			InstanceName: "RestoPOS Server",
		},
		Till: TillConfig{
			TableID:            1,
			SyncDelayMS:        300,
			DrainAttempts:      5,
			RequestTimeoutSec:  10,
			DiscoveryTimeoutMS: 3000,
			DraftDBPath:        filepath.Join(dataDir, "till.db"),
		},
		Business: BusinessConfig{
			Name: "RestoPOS",
		},
		System: SystemConfig{
			DataPath:         dataDir,
			LogDir:           filepath.Join(dataDir, "logs"),
			LogRetentionDays: 30,
		},
		FirstRun: true,
	}
}

// LoadConfig reads configPath and decrypts sensitive fields
func LoadConfig(configPath string, vault *security.Vault) (*AppConfig, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	cfg := Default(filepath.Dir(configPath))
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}

	cfg.decryptSensitiveFields(vault)
	return cfg, nil
}

// SaveConfig writes cfg to configPath with sensitive fields encrypted
func SaveConfig(configPath string, cfg *AppConfig, vault *security.Vault) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	// encrypt a copy so the caller keeps plain values
	cfgCopy := *cfg
	cfgCopy.Server.APIKeyHashes = append([]string(nil), cfg.Server.APIKeyHashes...)
	if err := cfgCopy.encryptSensitiveFields(vault); err != nil {
		return fmt.Errorf("could not encrypt sensitive fields: %w", err)
	}

	data, err := json.MarshalIndent(&cfgCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}

// LoadOrCreate loads the config, writing a default one on first run
func LoadOrCreate(configPath string, vault *security.Vault) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Default(filepath.Dir(configPath))
		if err := SaveConfig(configPath, cfg, vault); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadConfig(configPath, vault)
}

// ApplyEnv overrides config values from the environment. Priority:
// DATABASE_URL > DB_* variables > config file.
func (cfg *AppConfig) ApplyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.Username, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")
	setString(&cfg.Database.Path, "DB_PATH")
	if v, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
		cfg.Database.Port = v
	}

	if v := os.Getenv("WS_PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("POS_API_KEY_HASH"); v != "" {
		cfg.Server.APIKeyHashes = append(cfg.Server.APIKeyHashes, v)
	}

	setString(&cfg.Till.ServerURL, "POS_SERVER_URL")
	setString(&cfg.Till.APIKey, "POS_API_KEY")
	if v, err := strconv.ParseUint(os.Getenv("POS_TABLE_ID"), 10, 32); err == nil && v > 0 {
		cfg.Till.TableID = uint(v)
	}
}

// Validate checks the settings a mode needs
func (cfg *AppConfig) Validate(mode string) error {
	switch mode {
	case "server":
		if cfg.Server.Port == "" {
			return fmt.Errorf("server.port is required")
		}
		switch cfg.Database.Driver {
		case "sqlite":
			if cfg.Database.Path == "" {
				return fmt.Errorf("database.path is required for sqlite")
			}
		case "postgres":
			if cfg.Database.URL == "" && cfg.Database.Host == "" {
				return fmt.Errorf("database.host or DATABASE_URL is required for postgres")
			}
		default:
			return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
		}
		if len(cfg.Server.APIKeyHashes) == 0 {
			return fmt.Errorf("no till API keys configured; run with -new-api-key")
		}
	case "till":
		if cfg.Till.TableID == 0 {
			return fmt.Errorf("till.table_id is required")
		}
		if cfg.Till.APIKey == "" {
			return fmt.Errorf("till.api_key is required")
		}
		if cfg.Till.SyncDelayMS < 0 || cfg.Till.DrainAttempts < 0 {
			return fmt.Errorf("till.sync_delay_ms and till.drain_attempts must not be negative")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}

// encryptSensitiveFields encrypts the database password and the till API key
func (cfg *AppConfig) encryptSensitiveFields(vault *security.Vault) error {
	var err error
	if cfg.Database.Password != "" {
		cfg.Database.Password, err = vault.Encrypt(cfg.Database.Password)
		if err != nil {
			return fmt.Errorf("could not encrypt database password: %w", err)
		}
	}
	if cfg.Till.APIKey != "" {
		cfg.Till.APIKey, err = vault.Encrypt(cfg.Till.APIKey)
		if err != nil {
			return fmt.Errorf("could not encrypt till API key: %w", err)
		}
	}
	return nil
}

// decryptSensitiveFields leaves values that are not ciphertext as they are
func (cfg *AppConfig) decryptSensitiveFields(vault *security.Vault) {
	cfg.Database.Password = vault.DecryptOrPlain(cfg.Database.Password)
	cfg.Till.APIKey = vault.DecryptOrPlain(cfg.Till.APIKey)
}

func setString(target *string, env string) {
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}
