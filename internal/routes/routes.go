package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"milk-ticket-backend/internal/auth"
	handler "milk-ticket-backend/internal/handlers"
	"milk-ticket-backend/internal/lock"
	"milk-ticket-backend/internal/repository"
	service "milk-ticket-backend/internal/services/reconciliation"
	"milk-ticket-backend/internal/services/review"
	"milk-ticket-backend/internal/services/tickets"
)

// Deps are the collaborators the API is wired from.
type Deps struct {
	DB            *gorm.DB
	Locker        lock.Locker
	Authenticator auth.Authenticator
	Logger        *logrus.Logger
	Builder       *tickets.Builder
	Options       service.Options
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	ticketRepo := repository.NewTicketRepository(deps.DB)
	runRepo := repository.NewImportRunRepository(deps.DB)

	reconService := service.NewReconciliationService(
		ticketRepo,
		runRepo,
		deps.Builder,
		deps.Locker,
		deps.Logger,
		deps.Options,
	)
	navigator := review.NewNavigator(ticketRepo, deps.Logger)

	Mount(r, handler.NewReconciliationHandler(reconService), handler.NewTicketHandler(navigator), deps.Authenticator)
}

// Mount attaches the handlers under /api.
func Mount(r *gin.Engine, reconHandler *handler.ReconciliationHandler, ticketHandler *handler.TicketHandler, a auth.Authenticator) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.POST("/auth/login", handler.NewAuthHandler(a).Login)

	secured := api.Group("")
	secured.Use(handler.AuthMiddleware(a))

	// Review workflow
	ticketRoutes := secured.Group("/tickets")
	{
		ticketRoutes.GET("", ticketHandler.List)
		ticketRoutes.GET("/next", ticketHandler.Next)
		ticketRoutes.GET("/:loadBatchId", ticketHandler.Get)
		ticketRoutes.PUT("/:loadBatchId", ticketHandler.Update)
		ticketRoutes.GET("/:loadBatchId/history", ticketHandler.History)
	}

	// Reconciliation runs
	recon := secured.Group("/reconciliation")
	{
		recon.POST("/run", reconHandler.Run)
		recon.POST("/upload", reconHandler.Upload)
		recon.GET("/preview", reconHandler.Preview)
		recon.GET("/runs/:runId", reconHandler.GetRun)
	}
}
