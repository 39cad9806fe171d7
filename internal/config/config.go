package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Sale     SaleConfig     `json:"sale"`
	Security SecurityConfig `json:"security"`
	AWS      AWSConfig      `json:"aws"`
	Events   EventsConfig   `json:"events"`
	Storage  StorageConfig  `json:"storage"`
	Reports  ReportsConfig  `json:"reports"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// SaleConfig holds defaults for new sales and the outbox relay.
type SaleConfig struct {
	MaxInvestors int `json:"max_investors"`
	RelayBatch   int `json:"relay_batch"`
}

// SecurityConfig holds bearer token settings.
type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	Issuer    string        `json:"issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// AWSConfig is shared by the S3, SNS and DynamoDB clients. Static keys and
// endpoint are optional; the default credential chain applies otherwise.
type AWSConfig struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// EventsConfig selects the event sinks. Empty values disable a sink.
type EventsConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
	DynamoTable string `json:"dynamo_table"`
}

// StorageConfig configures snapshot uploads.
type StorageConfig struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	UsePathStyle bool   `json:"use_path_style"`
}

// ReportsConfig configures scheduled jobs. Specs use the six-field cron
// format with seconds.
type ReportsConfig struct {
	SnapshotCron string `json:"snapshot_cron"`
	RelayCron    string `json:"relay_cron"`
}

// LoggingConfig
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			DBName:         "token_sale",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Sale: SaleConfig{
			MaxInvestors: 100,
			RelayBatch:   100,
		},
		Security: SecurityConfig{
			Issuer:   "sale-backend",
			TokenTTL: 24 * time.Hour,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Storage: StorageConfig{
			Prefix: "snapshots",
		},
		Reports: ReportsConfig{
			SnapshotCron: "0 0 * * * *",
			RelayCron:    "0 * * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadConfig loads configuration from a .env file, a JSON file and
// environment variables, later sources winning. Missing files are skipped.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Sale.MaxInvestors <= 0 {
		return fmt.Errorf("sale max_investors must be positive")
	}
	if c.Sale.RelayBatch <= 0 {
		return fmt.Errorf("sale relay_batch must be positive")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security jwt_secret is required")
	}
	return nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")
	if v := os.Getenv("DATABASE_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Database.AutoMigrate = b
		}
	}

	setInt(&config.Sale.MaxInvestors, "SALE_MAX_INVESTORS")
	setInt(&config.Sale.RelayBatch, "SALE_RELAY_BATCH")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setString(&config.Security.Issuer, "JWT_ISSUER")
	if v := os.Getenv("JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Security.TokenTTL = d
		}
	}

	setString(&config.AWS.Region, "AWS_REGION")
	setString(&config.AWS.Endpoint, "AWS_ENDPOINT_URL")
	setString(&config.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")

	setString(&config.Events.SNSTopicARN, "EVENTS_SNS_TOPIC_ARN")
	setString(&config.Events.DynamoTable, "EVENTS_DYNAMO_TABLE")

	setString(&config.Storage.Bucket, "SNAPSHOT_BUCKET")
	setString(&config.Storage.Prefix, "SNAPSHOT_PREFIX")

	setString(&config.Reports.SnapshotCron, "SNAPSHOT_CRON")
	setString(&config.Reports.RelayCron, "RELAY_CRON")

	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Format, "LOG_FORMAT")
	setString(&config.Logging.Output, "LOG_OUTPUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
