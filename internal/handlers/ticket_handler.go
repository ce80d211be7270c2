package handler

import (
	"errors"
	"net/http"

	"milk-ticket-backend/internal/config"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/services/review"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/gin-gonic/gin"
)

const (
	msgAllProcessed   = "All milk tickets have been processed."
	msgTicketNotFound = "No milk ticket found for the provided load batch ID."
)

type TicketHandler struct {
	navigator *review.Navigator
}

func NewTicketHandler(n *review.Navigator) *TicketHandler {
	return &TicketHandler{navigator: n}
}

// ticketView is what the review form renders for one ticket.
type ticketView struct {
	Ticket       *models.MilkTicket `json:"ticket"`
	Pickups      []models.Pickup    `json:"pickups"`
	TankWeightID string             `json:"tank_weight_id"`
	Previous     string             `json:"previous_load_batch_id,omitempty"`
	Next         string             `json:"next_load_batch_id,omitempty"`
}

func (h *TicketHandler) List(c *gin.Context) {
	all, err := h.navigator.ListAll(c.Request.Context())
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "List", "list tickets", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	if all == nil {
		all = []models.MilkTicket{}
	}
	c.JSON(http.StatusOK, gin.H{"items": all, "count": len(all)})
}

// Next serves the earliest ticket still waiting for review.
func (h *TicketHandler) Next(c *gin.Context) {
	h.respondWithTicket(c, "")
}

func (h *TicketHandler) Get(c *gin.Context) {
	h.respondWithTicket(c, c.Param("loadBatchId"))
}

func (h *TicketHandler) respondWithTicket(c *gin.Context, key string) {
	ctx := c.Request.Context()

	ticket, err := h.navigator.GetNextOrByKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		msg := msgTicketNotFound
		if key == "" {
			msg = msgAllProcessed
		}
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "respondWithTicket", "load ticket", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ticket"})
		return
	}

	view, err := h.view(c, ticket)
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "respondWithTicket", "build view", ticket.LoadBatchID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ticket"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TicketHandler) view(c *gin.Context, ticket *models.MilkTicket) (*ticketView, error) {
	pickups, err := ticket.Pickups()
	if err != nil {
		return nil, err
	}
	prev, next, err := h.navigator.Neighbors(c.Request.Context(), ticket)
	if err != nil {
		return nil, err
	}

	v := &ticketView{
		Ticket:       ticket,
		Pickups:      pickups,
		TankWeightID: tickets.TankWeightID(ticket),
	}
	if prev != nil {
		v.Previous = prev.LoadBatchID
	}
	if next != nil {
		v.Next = next.LoadBatchID
	}
	return v, nil
}

// Update applies the operator's corrections and marks the ticket reviewed.
func (h *TicketHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("loadBatchId")

	var fields review.EditFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ticket, err := h.navigator.Find(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgTicketNotFound})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "Update", "load ticket", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ticket"})
		return
	}

	err = h.navigator.ApplyEdit(ctx, ticket, fields, c.GetString(usernameKey))
	switch {
	case errors.Is(err, review.ErrInvalidEdit):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgTicketNotFound})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket was not saved, please retry"})
		return
	}

	resp := gin.H{"message": "ticket updated", "ticket": ticket}
	if next, err := h.navigator.NextUnreviewed(ctx); err == nil {
		resp["next_load_batch_id"] = next.LoadBatchID
	} else if errors.Is(err, models.ErrNotFound) {
		resp["message"] = "ticket updated. " + msgAllProcessed
	}
	c.JSON(http.StatusOK, resp)
}

// History lists the edits operators made to a ticket.
func (h *TicketHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("loadBatchId")

	ticket, err := h.navigator.Find(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgTicketNotFound})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "History", "load ticket", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ticket"})
		return
	}

	entries, err := h.navigator.History(ctx, ticket)
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "History", "load history", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load edit history"})
		return
	}
	if entries == nil {
		entries = []models.TicketEditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
