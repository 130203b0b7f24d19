package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"RestoPOS/app/security"
)

func newVault(t *testing.T) *security.Vault {
	t.Helper()
	v, err := security.NewVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	return v
}

func TestSaveAndLoadEncryptsSecrets(t *testing.T) {
	vault := newVault(t)
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default(filepath.Dir(path))
	cfg.Database.Password = "db-pass"
	cfg.Till.APIKey = "till-key"
	if err := SaveConfig(path, cfg, vault); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	if cfg.Till.APIKey != "till-key" {
		t.Error("SaveConfig() modified the caller's config")
	}

	raw, _ := os.ReadFile(path)
	var onDisk AppConfig
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("config on disk is not JSON: %v", err)
	}
	if onDisk.Database.Password == "db-pass" || onDisk.Till.APIKey == "till-key" {
		t.Error("secrets were written in plain text")
	}

	loaded, err := LoadConfig(path, vault)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Database.Password != "db-pass" || loaded.Till.APIKey != "till-key" {
		t.Errorf("decrypted secrets = %q, %q", loaded.Database.Password, loaded.Till.APIKey)
	}
	if loaded.Till.SyncDelay() != 300*time.Millisecond {
		t.Errorf("SyncDelay() = %s", loaded.Till.SyncDelay())
	}
}

func TestLoadConfigAcceptsPlainSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"till":{"api_key":"plain","table_id":7}}`), 0600)

	cfg, err := LoadConfig(path, newVault(t))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Till.APIKey != "plain" || cfg.Till.TableID != 7 {
		t.Errorf("till = %+v", cfg.Till)
	}
	// unspecified values keep their defaults
	if cfg.Till.DrainAttempts != 5 || cfg.Server.Port != ":8080" {
		t.Errorf("defaults lost: drain=%d port=%q", cfg.Till.DrainAttempts, cfg.Server.Port)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg, err := LoadOrCreate(path, newVault(t))
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if !cfg.FirstRun {
		t.Error("new config should be marked first run")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file was not written: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db/pos")
	t.Setenv("WS_PORT", "9090")
	t.Setenv("POS_SERVER_URL", "http://10.0.0.2:9090")
	t.Setenv("POS_TABLE_ID", "12")
	t.Setenv("POS_API_KEY", "env-key")

	cfg := Default(t.TempDir())
	cfg.ApplyEnv()

	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://u:p@db/pos" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Server.Port != ":9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Till.ServerURL != "http://10.0.0.2:9090" || cfg.Till.TableID != 12 || cfg.Till.APIKey != "env-key" {
		t.Errorf("till = %+v", cfg.Till)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"serverWithKey", "server", func(c *AppConfig) { c.Server.APIKeyHashes = []string{"h"} }, false},
		{"serverWithoutKeys", "server", func(c *AppConfig) {}, true},
		{"serverBadDriver", "server", func(c *AppConfig) {
			c.Server.APIKeyHashes = []string{"h"}
			c.Database.Driver = "mysql"
		}, true},
		{"tillWithKey", "till", func(c *AppConfig) { c.Till.APIKey = "k" }, false},
		{"tillWithoutTable", "till", func(c *AppConfig) {
			c.Till.APIKey = "k"
			c.Till.TableID = 0
		}, true},
		{"unknownMode", "kiosk", func(c *AppConfig) {}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			if err := cfg.Validate(tt.mode); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
