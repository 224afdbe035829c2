package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/auth"
	"github.com/imrishuroy/foodie-orderflow/internal/idempotency"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/negotiation"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
	"github.com/imrishuroy/foodie-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Service     *negotiation.Service
	Idempotency *idempotency.Store
	Verifier    *auth.Verifier
	Limiter     *auth.Limiter // nil disables rate limiting
	// PingInterval keeps live sockets open through idle proxies.
	PingInterval time.Duration
}

const defaultPingInterval = 30 * time.Second

type ordersHandler struct {
	svc          *negotiation.Service
	idem         *idempotency.Store
	v            *validatorv10.Validate
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &ordersHandler{
		svc:          cfg.Service,
		idem:         cfg.Idempotency,
		v:            validation.New(),
		pingInterval: cfg.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the bearer token, not the origin, authorizes the stream
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}

	authed := r.Group("/", auth.Middleware(cfg.Verifier))

	// reads
	authed.GET("/orders/:id", h.getOrder)
	authed.GET("/orders/:id/actions", h.actions)
	authed.GET("/orders/:id/live", h.live)
	authed.GET("/me/orders", h.buyerOrders)
	authed.GET("/me/orders/history", h.history)
	authed.GET("/seller/orders", h.sellerOrders)

	mutating := authed.Group("/")
	if cfg.Limiter != nil {
		mutating.Use(cfg.Limiter.Middleware())
	}
	mutating.POST("/orders", h.placeOrder)
	mutating.POST("/orders/:id/accept", h.accept)
	mutating.POST("/orders/:id/reject", h.simple(h.svc.SellerReject))
	mutating.POST("/orders/:id/agree", h.simple(h.svc.BuyerAgree))
	mutating.POST("/orders/:id/decline", h.simple(h.svc.BuyerDecline))
	mutating.POST("/orders/:id/cook", h.simple(h.svc.SellerStartCooking))
	mutating.POST("/orders/:id/complete", h.simple(h.svc.SellerCompleteOrder))
	mutating.POST("/orders/:id/cancel", h.cancel)
	mutating.POST("/orders/:id/rating", h.rate)
}

func actor(c *gin.Context) negotiation.Actor {
	id, _ := auth.FromContext(c)
	return negotiation.Actor{UserID: id.UserID, Role: id.Role}
}

func (h *ordersHandler) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	who := actor(c)
	// keys are scoped to the caller so two buyers cannot collide
	var idempKey string
	if k := c.GetHeader(idempotency.Header); k != "" {
		idempKey = who.UserID + "/" + k
	}

	order, err := h.svc.PlaceOrder(ctx, who, negotiation.PlaceOrderInput{
		FoodItemID:     req.FoodItemID,
		Quantity:       req.Quantity,
		IdempotencyKey: idempKey,
	})
	if errors.Is(err, negotiation.ErrDuplicateRequest) {
		h.replay(c, idempKey)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	body, err := json.Marshal(order)
	if err != nil {
		writeError(c, fmt.Errorf("marshal order: %w", err))
		return
	}
	if idempKey != "" {
		if err := h.idem.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
			// retries will see IN_PROGRESS until the key expires
			logger.FromCtx(ctx).Warn("mark idempotency done failed", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a retried placement from the stored idempotency record.
func (h *ordersHandler) replay(c *gin.Context, key string) {
	rec, err := h.idem.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		// the reservation expired between the conflict and the read
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

type transitionFunc func(ctx context.Context, actor negotiation.Actor, orderID string) (*negotiation.Result, error)

// simple wraps transitions that take no body.
func (h *ordersHandler) simple(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := fn(c.Request.Context(), actor(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *ordersHandler) accept(c *gin.Context) {
	var req validation.AcceptRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	res, err := h.svc.SellerAccept(c.Request.Context(), actor(c), c.Param("id"), req.WaitingTimeMinutes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ordersHandler) cancel(c *gin.Context) {
	var req validation.CancelRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	res, err := h.svc.BuyerCancelOrder(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ordersHandler) rate(c *gin.Context) {
	var req validation.RateRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.svc.RateOrder(c.Request.Context(), actor(c), c.Param("id"), req.Rating)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *ordersHandler) getOrder(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *ordersHandler) actions(c *gin.Context) {
	acts, o, err := h.svc.Actions(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": o.OrderID, "status": o.Status, "actions": acts})
}

type pageResponse[T any] struct {
	Items       []T    `json:"items"`
	HasMore     bool   `json:"has_more"`
	LastOrderID string `json:"last_order_id,omitempty"`
}

func toResponse[T any](p orders.Page[T]) pageResponse[T] {
	items := p.Items
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{Items: items, HasMore: p.HasMore, LastOrderID: p.Last}
}

func (h *ordersHandler) buyerOrders(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.svc.BuyerOrders(c.Request.Context(), actor(c), q.LastOrderID, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(page))
}

func (h *ordersHandler) history(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.svc.OrderHistory(c.Request.Context(), actor(c), q.LastOrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(page))
}

func (h *ordersHandler) sellerOrders(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.svc.SellerOrders(c.Request.Context(), actor(c), q.Statuses(), q.LastOrderID, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(page))
}
