package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the postgres connection used by the server and the CLI.
func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: initLog(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}

	if sqlDB, derr := db.DB(); derr == nil {
		sqlDB.SetMaxOpenConns(intFromEnv("DB_MAX_OPEN_CONNS", 10))
		sqlDB.SetMaxIdleConns(intFromEnv("DB_MAX_IDLE_CONNS", 5))
		sqlDB.SetConnMaxLifetime(time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)
	}
	return db, nil
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}
