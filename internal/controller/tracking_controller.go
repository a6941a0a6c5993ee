package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"checkout-service/internal/dto"
	"checkout-service/internal/model"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/service"
	"checkout-service/internal/tracking"
)

type TrackingController struct {
	Broadcaster *tracking.Broadcaster
	Orders      *service.OrderService
}

func NewTrackingController(b *tracking.Broadcaster, orders *service.OrderService) *TrackingController {
	return &TrackingController{Broadcaster: b, Orders: orders}
}

func trackingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidMilestoneOrder), errors.Is(err, tracking.ErrNotAllowedForOrder):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, tracking.ErrUnknownMilestone), errors.Is(err, tracking.ErrEmptyUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		respondError(c, err)
	}
}

// GET /tracking/:orderRef
func (ctl *TrackingController) GetState(c *gin.Context) {
	st, err := ctl.Broadcaster.State(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		trackingError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /tracking/:orderRef/stream - Server-Sent Events hasta que el cliente corta
func (ctl *TrackingController) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub, err := ctl.Broadcaster.Subscribe(c.Request.Context(), c.Param("orderRef"), tracking.NewStreamObserver(c))
	if err != nil {
		trackingError(c, err)
		return
	}
	<-sub.Done()
}

// POST /tracking/:orderRef/location - dueño o admin
func (ctl *TrackingController) UpdateLocation(c *gin.Context) {
	var req dto.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := ctl.Orders.GetByOrderRef(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !c.GetBool("isAdmin") && (o.UserID == "" || o.UserID != c.GetString("userID")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot update another user's order"})
		return
	}

	st, err := ctl.Broadcaster.Publish(c.Request.Context(), o.OrderRef, tracking.Update{
		Location:    req.Location,
		OrderStatus: o.Status,
		Recipient:   &o.Customer,
	})
	if err != nil {
		trackingError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /tracking/:orderRef/milestone - admin only. El hito mueve la orden por
// la máquina de estados; el tracking se actualiza con el evento resultante.
func (ctl *TrackingController) PublishMilestone(c *gin.Context) {
	var req dto.MilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := model.Milestone(req.Milestone)
	if !m.Valid() {
		trackingError(c, fmt.Errorf("%w: %q", tracking.ErrUnknownMilestone, m))
		return
	}
	status, ok := orderstate.StatusForMilestone(m)
	if !ok {
		respondError(c, fmt.Errorf("%w: el hito %s lo fija el flujo de pago", orderstate.ErrInvalidTransition, m))
		return
	}

	o, err := ctl.Orders.UpdateStatus(c.Request.Context(), service.StatusUpdate{
		OrderRef:        c.Param("orderRef"),
		Status:          status,
		Reason:          req.Note,
		ActorID:         c.GetString("userID"),
		IsAdmin:         c.GetBool("isAdmin"),
		DeliveryPartner: req.DeliveryPartner,
		TrackingNumber:  req.TrackingNumber,
		Location:        req.Location,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	st, err := ctl.Broadcaster.State(c.Request.Context(), o.OrderRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /admin/tracking/stats
func (ctl *TrackingController) Stats(c *gin.Context) {
	st, err := ctl.Broadcaster.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
