package main

import (
	"context"
	"time"

	"milk-ticket-backend/internal/auth"
	"milk-ticket-backend/internal/config"
	handler "milk-ticket-backend/internal/handlers"
	"milk-ticket-backend/internal/lock"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/routes"
	"milk-ticket-backend/internal/services/grouping"
	service "milk-ticket-backend/internal/services/reconciliation"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const runLockTTL = 30 * time.Minute

func main() {
	logger := config.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	config.SetLogLevel(cfg.LogLevel)

	db, err := config.InitDB(cfg)
	if err != nil {
		logger.WithError(err).Fatal("database unavailable")
	}
	if err := models.Migrate(db); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}

	locker, err := lock.New(context.Background(), cfg.RedisAddress, runLockTTL)
	if err != nil {
		logger.WithError(err).Fatal("run lock unavailable")
	}

	authn, err := auth.NewStaticAuthenticator(cfg.AuthUsername, cfg.AuthPasswordHash, cfg.JWTSecret,
		time.Duration(cfg.TokenHourLifespan)*time.Hour)
	if err != nil {
		logger.WithError(err).Fatal("authentication is not configured")
	}

	policy, err := grouping.ParseAnchorPolicy(cfg.AnchorPolicy)
	if err != nil {
		logger.WithError(err).Fatal("invalid anchor policy")
	}

	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(logger))
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		DB:            db,
		Locker:        locker,
		Authenticator: authn,
		Logger:        logger,
		Builder:       tickets.NewBuilder(cfg.ReceivingPlant, cfg.ReceivingPlantLocation),
		Options: service.Options{
			SheetName:    cfg.SheetName,
			BatchSize:    cfg.BatchSize,
			AnchorPolicy: policy,
		},
	})

	logger.WithField("port", cfg.Port).Info("milk ticket server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
