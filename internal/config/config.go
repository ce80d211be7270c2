package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the server and the CLI need. Values come from
// the environment (optionally a .env file) and may be overridden by a YAML
// file named in CONFIG_FILE.
type Config struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`

	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	RedisAddress string `yaml:"redis_address"`

	SheetName              string `yaml:"sheet_name"`
	BatchSize              int    `yaml:"batch_size"`
	AnchorPolicy           string `yaml:"anchor_policy"`
	ReceivingPlant         string `yaml:"receiving_plant"`
	ReceivingPlantLocation string `yaml:"receiving_plant_location"`

	AuthUsername      string `yaml:"auth_username"`
	AuthPasswordHash  string `yaml:"auth_password_hash"`
	JWTSecret         string `yaml:"jwt_secret"`
	TokenHourLifespan int    `yaml:"token_hour_lifespan"`
}

// Load reads .env (if present), the environment and the optional YAML
// override file.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        stringFromEnv("PORT", "8080"),
		CORSOrigins: splitList(stringFromEnv("CORS_ORIGINS", "http://localhost:3000")),
		LogLevel:    stringFromEnv("LOG_LEVEL", "info"),

		DBHost:     stringFromEnv("DB_HOST", "localhost"),
		DBPort:     stringFromEnv("DB_PORT", "5432"),
		DBUser:     stringFromEnv("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     stringFromEnv("DB_NAME", "milk_tickets"),
		DBSSLMode:  stringFromEnv("DB_SSLMODE", "disable"),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),

		SheetName:              os.Getenv("SHEET_NAME"),
		BatchSize:              intFromEnv("BATCH_SIZE", 100),
		AnchorPolicy:           stringFromEnv("ANCHOR_POLICY", "reject"),
		ReceivingPlant:         stringFromEnv("RECEIVING_PLANT", "Cedar Grove Cheese Inc."),
		ReceivingPlantLocation: stringFromEnv("RECEIVING_PLANT_LOCATION", "Plain, WI"),

		AuthUsername:      stringFromEnv("AUTH_USERNAME", "admin"),
		AuthPasswordHash:  os.Getenv("AUTH_PASSWORD_HASH"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenHourLifespan: intFromEnv("TOKEN_HOUR_LIFESPAN", 12),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile applies non-zero values from a YAML file on top of cfg.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.merge(&file)
	return nil
}

func (c *Config) merge(o *Config) {
	setString(&c.Port, o.Port)
	if len(o.CORSOrigins) > 0 {
		c.CORSOrigins = o.CORSOrigins
	}
	setString(&c.LogLevel, o.LogLevel)
	setString(&c.DBHost, o.DBHost)
	setString(&c.DBPort, o.DBPort)
	setString(&c.DBUser, o.DBUser)
	setString(&c.DBPassword, o.DBPassword)
	setString(&c.DBName, o.DBName)
	setString(&c.DBSSLMode, o.DBSSLMode)
	setString(&c.RedisAddress, o.RedisAddress)
	setString(&c.SheetName, o.SheetName)
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	setString(&c.AnchorPolicy, o.AnchorPolicy)
	setString(&c.ReceivingPlant, o.ReceivingPlant)
	setString(&c.ReceivingPlantLocation, o.ReceivingPlantLocation)
	setString(&c.AuthUsername, o.AuthUsername)
	setString(&c.AuthPasswordHash, o.AuthPasswordHash)
	setString(&c.JWTSecret, o.JWTSecret)
	if o.TokenHourLifespan > 0 {
		c.TokenHourLifespan = o.TokenHourLifespan
	}
}

func (c *Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	switch c.AnchorPolicy {
	case "reject", "first":
	default:
		return fmt.Errorf("unknown anchor policy %q (want reject or first)", c.AnchorPolicy)
	}
	return nil
}

// DSN is the postgres connection string for gorm.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
