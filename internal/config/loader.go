package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/akosyrev/chronicle/internal/db"
)

// Config is the full runtime configuration: database, HTTP server and the
// optional snapshot refresher.
type Config struct {
	Database  db.Config
	Server    ServerConfig
	Snapshot  SnapshotConfig
	Ingestion IngestionConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type SnapshotConfig struct {
	Enabled  bool
	Interval time.Duration
}

type IngestionConfig struct {
	// DefaultKind applies to uploaded rows without a kind column.
	DefaultKind string
}

func defaults() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Ingestion: IngestionConfig{
			DefaultKind: "PERSON",
		},
	}
}

// Load reads config.yaml from configPath, falling back to defaults and
// allowing env overrides like CHRONICLE_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CHRONICLE")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("snapshot.enabled")
	v.BindEnv("snapshot.interval")
	v.BindEnv("ingestion.default_kind")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("snapshot.enabled") {
		cfg.Snapshot.Enabled = v.GetBool("snapshot.enabled")
	}
	if v.IsSet("snapshot.interval") {
		cfg.Snapshot.Interval = v.GetDuration("snapshot.interval")
	}
	if v.IsSet("ingestion.default_kind") {
		cfg.Ingestion.DefaultKind = v.GetString("ingestion.default_kind")
	}

	return cfg, nil
}
