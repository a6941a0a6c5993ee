package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"checkout-service/internal/dto"
	"checkout-service/internal/model"
	"checkout-service/internal/service"
)

type OrderController struct {
	Service *service.OrderService
}

func NewOrderController(s *service.OrderService) *OrderController {
	return &OrderController{Service: s}
}

// POST /orders - No requiere token (también llega por Rabbit)
func (ctl *OrderController) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := ctl.Service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, service.ToResponse(o))
}

// PATCH /orders/:orderRef/status - requiere token
func (ctl *OrderController) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := ctl.Service.UpdateStatus(c.Request.Context(), service.StatusUpdate{
		OrderRef:        c.Param("orderRef"),
		Status:          model.OrderStatus(req.Status),
		Reason:          req.Reason,
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

	c.JSON(http.StatusOK, gin.H{"message": "status updated", "status": o.Status})
}

// GET /orders/:orderRef - dueño o admin
func (ctl *OrderController) GetOrder(c *gin.Context) {
	o, err := ctl.Service.GetByOrderRef(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		respondError(c, err)
		return
	}

	if !c.GetBool("isAdmin") && o.UserID != c.GetString("userID") {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot view another user's order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   service.ToResponse(o),
		"latest":  o.LatestRecord(),
		"history": o.History,
	})
}

// GET /orders/mine - user (middleware debe poner userID)
func (ctl *OrderController) GetMyOrders(c *gin.Context) {
	orders, err := ctl.Service.GetByUserID(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(orders))
}

// GET /admin/orders - admin only (middleware AdminOnly)
func (ctl *OrderController) GetAllOrders(c *gin.Context) {
	orders, err := ctl.Service.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(orders))
}

// GET /admin/orders/state/:state - admin only
func (ctl *OrderController) GetAllOrdersByState(c *gin.Context) {
	orders, err := ctl.Service.GetByStatus(c.Request.Context(), model.OrderStatus(c.Param("state")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(orders))
}

func toResponses(orders []*model.Order) []dto.OrderResponse {
	out := make([]dto.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, service.ToResponse(o))
	}
	return out
}
