package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CARE_"

const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StoreMySQL     = "mysql"

	DispatcherLog = "log"
	DispatcherFCM = "fcm"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Firebase   FirebaseConfig   `koanf:"firebase"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Auth       AuthConfig       `koanf:"auth"`
}

type ServerConfig struct {
	Port string `koanf:"port"`
	Mode string `koanf:"mode"` // gin mode: release, debug or test
}

type StoreConfig struct {
	Driver       string        `koanf:"driver"`
	MySQLDSN     string        `koanf:"mysql_dsn"`
	PollInterval time.Duration `koanf:"poll_interval"` // Subscribe polling for mysql
	Collection   string        `koanf:"collection"`    // Firestore collection
}

type FirebaseConfig struct {
	CredentialsFile string `koanf:"credentials_file"`
	ProjectID       string `koanf:"project_id"`
}

type DispatcherConfig struct {
	Driver          string `koanf:"driver"`
	MaxAttempts     int    `koanf:"max_attempts"`
	TokenCollection string `koanf:"token_collection"`
}

type SchedulerConfig struct {
	ReconcileSpec string `koanf:"reconcile_spec"` // cron spec with seconds
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// Load reads .env, then layers defaults, the YAML file at configPath (if it
// exists) and CARE_* environment variables. CARE_STORE_DRIVER sets
// store.driver.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found or failed to load")
	}

	k := koanf.New(".")
	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Variables the deployment already sets for the mobile backend.
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_1"); creds != "" && k.String("firebase.credentials_file") == "" {
		k.Set("firebase.credentials_file", creds)
	}
	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" && k.String("auth.jwt_secret") == "" {
		k.Set("auth.jwt_secret", secret)
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(envPrefix+"SERVER_PORT") == "" {
		k.Set("server.port", port)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey maps CARE_STORE_MYSQL_DSN to store.mysql_dsn: the first underscore
// separates the section.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFirestore:
		if c.Firebase.CredentialsFile == "" {
			return fmt.Errorf("firebase credentials are required for the firestore store (set GOOGLE_APPLICATION_CREDENTIALS_1)")
		}
	case StoreMySQL:
		if c.Store.MySQLDSN == "" {
			return fmt.Errorf("mysql_dsn is required for the mysql store")
		}
	default:
		return fmt.Errorf("unknown store driver: %s (supported: %s, %s, %s)",
			c.Store.Driver, StoreMemory, StoreFirestore, StoreMySQL)
	}

	switch c.Dispatcher.Driver {
	case DispatcherLog:
	case DispatcherFCM:
		if c.Firebase.CredentialsFile == "" {
			return fmt.Errorf("firebase credentials are required for the fcm dispatcher (set GOOGLE_APPLICATION_CREDENTIALS_1)")
		}
	default:
		return fmt.Errorf("unknown dispatcher driver: %s (supported: %s, %s)",
			c.Dispatcher.Driver, DispatcherLog, DispatcherFCM)
	}

	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (set JWT_SECRET_KEY or auth.jwt_secret)")
	}
	if c.Scheduler.ReconcileSpec == "" {
		return fmt.Errorf("reconcile_spec is required")
	}
	return nil
}

// UsesFirebase reports whether any component needs the Firebase app.
func (c *Config) UsesFirebase() bool {
	return c.Store.Driver == StoreFirestore || c.Dispatcher.Driver == DispatcherFCM
}
