// Package main is the entry point for the upgraderunner server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tcmartin/upgraderunner/pkg/api"
	"github.com/tcmartin/upgraderunner/pkg/config"
	"github.com/tcmartin/upgraderunner/pkg/logging"
	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/scheduler"
	"github.com/tcmartin/upgraderunner/pkg/services"
	"github.com/tcmartin/upgraderunner/pkg/storage"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "upgraderunner"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// App wires the storage provider, manager client, workflow engine, scheduler
// and HTTP server together.
type App struct {
	cfg       *config.Config
	logger    logging.Logger
	provider  storage.StorageProvider
	server    *api.Server
	scheduler *scheduler.Scheduler
}

func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	provider, err := storage.NewProvider(providerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Manager.BaseURL == "" {
		return nil, fmt.Errorf("manager base URL is not configured")
	}
	managerClient := manager.NewClient(cfg.Manager.BaseURL, cfg.Manager.Token)
	if cfg.Manager.TimeoutSeconds > 0 {
		managerClient.SetTimeout(time.Duration(cfg.Manager.TimeoutSeconds) * time.Second)
	}

	workflows := services.NewWorkflowService(managerClient, provider.GetRunStore(), logger)
	auth := services.NewAuthService(cfg.Auth.Username, cfg.Auth.PasswordHash,
		cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)

	return &App{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		server:    api.NewServer(cfg, workflows, auth, logger),
		scheduler: scheduler.NewScheduler(cfg.Scheduler, workflows, logger),
	}, nil
}

func (a *App) Start() error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	return a.server.Start()
}

func (a *App) Stop(ctx context.Context) error {
	a.scheduler.Stop()
	if err := a.server.Stop(ctx); err != nil {
		return err
	}
	return a.provider.Close()
}

func providerConfig(cfg *config.Config) storage.ProviderConfig {
	return storage.ProviderConfig{
		Type: storage.ProviderType(cfg.Storage.Type),
		PostgreSQL: &storage.PostgreSQLProviderConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		},
		Redis: &storage.RedisProviderConfig{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		},
	}
}

// loadConfig loads the configuration from the specified path or creates a
// default one
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		// Otherwise, look for a config file in standard locations
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".upgraderunner", "config.json"),
			"/etc/upgraderunner/config.json",
		}

		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}

		// If no config file is found, create a default one
		if cfg == nil {
			cfg = config.DefaultConfig()

			defaultPath := filepath.Join(os.Getenv("HOME"), ".upgraderunner", "config.json")
			if err := config.SaveConfig(cfg, defaultPath); err != nil {
				return nil, fmt.Errorf("failed to save default config: %w", err)
			}

			fmt.Printf("Created default configuration at %s\n", defaultPath)
		}
	}

	// Override with environment variables if present
	config.FromEnv(cfg)

	// Generate a random JWT secret if not set
	if cfg.Auth.JWTSecret == "" {
		secret, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
	}

	return cfg, nil
}

// generateRandomKey generates a random hex-encoded key of the given byte
// length
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
