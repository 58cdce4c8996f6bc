package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Check default values
	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected default host to be 'localhost', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port to be 8080, got %d", cfg.Server.Port)
	}

	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected default storage type to be 'memory', got '%s'", cfg.Storage.Type)
	}

	if cfg.Scheduler.Enabled {
		t.Error("Expected scheduler to be disabled by default")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "upgraderunner-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "config.json")

	originalCfg := DefaultConfig()
	originalCfg.Server.Host = "testhost"
	originalCfg.Server.Port = 9090
	originalCfg.Manager.BaseURL = "https://example.org/contao-manager"
	originalCfg.Storage.Type = "postgresql"

	if err := SaveConfig(originalCfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loadedCfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.Server.Host != originalCfg.Server.Host {
		t.Errorf("Expected host to be '%s', got '%s'", originalCfg.Server.Host, loadedCfg.Server.Host)
	}

	if loadedCfg.Server.Port != originalCfg.Server.Port {
		t.Errorf("Expected port to be %d, got %d", originalCfg.Server.Port, loadedCfg.Server.Port)
	}

	if loadedCfg.Manager.BaseURL != originalCfg.Manager.BaseURL {
		t.Errorf("Expected manager URL to be '%s', got '%s'", originalCfg.Manager.BaseURL, loadedCfg.Manager.BaseURL)
	}

	if loadedCfg.Storage.Type != originalCfg.Storage.Type {
		t.Errorf("Expected storage type to be '%s', got '%s'", originalCfg.Storage.Type, loadedCfg.Storage.Type)
	}
}

func TestLoadConfigError(t *testing.T) {
	_, err := LoadConfig("non-existent-file.json")
	if err == nil {
		t.Error("Expected error when loading non-existent config file, got nil")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("UPGRADERUNNER_MANAGER_URL", "https://managed.example.org/contao-manager")
	t.Setenv("UPGRADERUNNER_MANAGER_TOKEN", "env-token")
	t.Setenv("UPGRADERUNNER_STORAGE_TYPE", "redis")

	cfg := DefaultConfig()
	FromEnv(cfg)

	if cfg.Manager.BaseURL != "https://managed.example.org/contao-manager" {
		t.Errorf("Expected manager URL from environment, got '%s'", cfg.Manager.BaseURL)
	}

	if cfg.Manager.Token != "env-token" {
		t.Errorf("Expected manager token from environment, got '%s'", cfg.Manager.Token)
	}

	if cfg.Storage.Type != "redis" {
		t.Errorf("Expected storage type from environment, got '%s'", cfg.Storage.Type)
	}
}
