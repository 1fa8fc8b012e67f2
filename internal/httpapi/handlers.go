// Package httpapi serves the cart and checkout operations over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/bookstore/checkout/internal/checkout"
	"github.com/bookstore/checkout/internal/payment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckoutService is the orchestrator surface the handlers call into
type CheckoutService interface {
	AddToCart(ctx context.Context, ownerID, sku string, qty int) error
	GetCart(ctx context.Context, ownerID string) ([]checkout.CartLine, error)
	Start(ctx context.Context, ownerID string) (*checkout.Snapshot, error)
	Pay(ctx context.Context, ownerID string, proof payment.Proof) (*checkout.Snapshot, error)
	Cancel(ctx context.Context, ownerID string) (*checkout.CancelResult, error)
	Checkout(ctx context.Context, ownerID string, proof payment.Proof) (*checkout.Snapshot, error)
	GetPending(ctx context.Context, ownerID string) (*checkout.Snapshot, error)
	GetOrder(ctx context.Context, ownerID, orderID string) (*checkout.Snapshot, error)
}

// AddItemRequest sets the quantity of a book in the cart
type AddItemRequest struct {
	BookSKU  string `json:"book_sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

// PayRequest carries the payment proof
type PayRequest struct {
	Token      string `json:"token" binding:"required"`
	CardNumber string `json:"card_number"`
}

func (r PayRequest) proof() payment.Proof {
	return payment.Proof{Token: r.Token, CardNumber: r.CardNumber}
}

// Handler holds the HTTP handlers
type Handler struct {
	svc CheckoutService
	log *zap.Logger
}

// NewHandler creates the checkout handlers
func NewHandler(svc CheckoutService, log *zap.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log,
	}
}

// Register mounts the routes on r. Every route needs an owner.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/cart/items", h.AddItem)
	r.GET("/cart", h.GetCart)
	r.POST("/checkout/start", h.Start)
	r.POST("/checkout/pay", h.Pay)
	r.POST("/checkout/cancel", h.Cancel)
	r.POST("/checkout", h.Checkout)
	r.GET("/orders/pending", h.GetPending)
	r.GET("/orders/:id", h.GetOrder)
}

// AddItem sets a cart line
func (h *Handler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.AddToCart(c.Request.Context(), ownerID(c), req.BookSKU, req.Quantity); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCart lists the cart
func (h *Handler) GetCart(c *gin.Context) {
	lines, err := h.svc.GetCart(c.Request.Context(), ownerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": lines})
}

// Start reserves the cart
func (h *Handler) Start(c *gin.Context) {
	snap, err := h.svc.Start(c.Request.Context(), ownerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Pay settles the pending order
func (h *Handler) Pay(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	snap, err := h.svc.Pay(c.Request.Context(), ownerID(c), req.proof())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Cancel abandons the pending order
func (h *Handler) Cancel(c *gin.Context) {
	result, err := h.svc.Cancel(c.Request.Context(), ownerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Checkout reserves and pays in one request
func (h *Handler) Checkout(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	snap, err := h.svc.Checkout(c.Request.Context(), ownerID(c), req.proof())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetPending returns the pending order
func (h *Handler) GetPending(c *gin.Context) {
	snap, err := h.svc.GetPending(c.Request.Context(), ownerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetOrder returns an order by id
func (h *Handler) GetOrder(c *gin.Context) {
	snap, err := h.svc.GetOrder(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := checkout.KindOf(err)
	status, code := statusOf(kind)
	if kind == checkout.KindInternal {
		h.log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("owner_id", ownerID(c)),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": code, "message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
}

func statusOf(kind checkout.Kind) (int, string) {
	switch kind {
	case checkout.KindEmptyCart:
		return http.StatusBadRequest, "EMPTY_CART"
	case checkout.KindInvalidCart:
		return http.StatusBadRequest, "INVALID_CART"
	case checkout.KindInsufficientStock:
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case checkout.KindNoPendingOrder:
		return http.StatusNotFound, "NO_PENDING_ORDER"
	case checkout.KindOrderExpired:
		return http.StatusGone, "ORDER_EXPIRED"
	case checkout.KindPaymentDeclined:
		return http.StatusPaymentRequired, "PAYMENT_DECLINED"
	case checkout.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
