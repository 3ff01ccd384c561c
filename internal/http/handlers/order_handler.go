// Order HTTP handlers for the restaurant dashboard.
//
//   - POST /orders                    submit a cart (Idempotency-Key aware)
//   - GET  /orders                    list, paginated, weak ETag
//   - GET  /orders/stats              counts per status
//   - GET  /orders/{id}               one order with its lines
//   - POST /orders/{id}/transitions   apply a lifecycle action
//   - POST /orders/{id}/reconcile     re-render or recreate the chat message
//
// Handlers are transport-thin: they validate input, call OrderService and
// translate its sentinel errors into error codes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/http/middleware"
	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/lifecycle"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/services"
	"github.com/tbourn/go-order-relay/internal/utils"
)

// HeaderReplayed is set on a POST /orders response served from an earlier
// request with the same Idempotency-Key.
const HeaderReplayed = "Idempotent-Replayed"

// OrderService is the slice of services.OrderService the handlers use.
//
// Implementations must be safe for concurrent use and honor ctx.
type OrderService interface {
	Create(ctx context.Context, userID, idemKey string, cart services.Cart) (*services.CreateResult, error)
	Get(ctx context.Context, id uint) (*domain.Order, error)
	ListPage(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error)
	ListVersion(ctx context.Context, status domain.OrderStatus) (int64, *time.Time, error)
	Stats(ctx context.Context) (map[domain.OrderStatus]int64, error)
	Transition(ctx context.Context, id uint, action string, actor interaction.Actor) (*domain.Order, lifecycle.Decision, error)
	Reconcile(ctx context.Context, id uint) (*domain.Order, notify.Result, error)
}

// Handlers groups the order endpoints.
type Handlers struct {
	orders OrderService
}

// New binds the handlers to svc.
func New(svc OrderService) *Handlers {
	return &Handlers{orders: svc}
}

//
// DTOs
//

// CreateOrderResponse wraps a created (or replayed) order.
type CreateOrderResponse struct {
	Order *domain.Order `json:"order"`
	// Notified is false when the chat message could not be sent yet; the
	// sweeper retries.
	Notified bool `json:"notified"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListOrdersResponse wraps a page of orders and pagination information.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// TransitionRequest asks for one lifecycle action on behalf of the caller.
type TransitionRequest struct {
	Action string `json:"action" binding:"required" example:"claim"`
	// ActorName is shown in the chat; defaults to the caller's user id.
	ActorName string `json:"actor_name" binding:"max=255" example:"Gérant"`
}

// TransitionResponse reports the decision and the resulting order.
type TransitionResponse struct {
	Order   *domain.Order      `json:"order"`
	Outcome string             `json:"outcome"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
}

// ReconcileResponse reports what reconciliation did to the chat message.
type ReconcileResponse struct {
	Order  *domain.Order `json:"order"`
	Result string        `json:"result"`
}

//
// Helpers
//

func orderID(c *gin.Context) (uint, bool) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id must be a positive integer")
	}
	return id, valid
}

// writeServiceError maps service sentinels onto statuses and codes.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrEmptyCart), errors.Is(err, services.ErrInvalidCart):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCart, err.Error())
	case errors.Is(err, services.ErrInvalidAction):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAction, err.Error())
	case errors.Is(err, services.ErrTransitionRejected):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

//
// Handlers
//

// CreateOrder godoc
// @ID          createOrder
// @Summary     Submit a cart
// @Description Stores the cart as a pending order and notifies the kitchen channel.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string         false  "Client retry key"
// @Param       body             body    services.Cart  true   "Cart"
// @Success     201  {object}  handlers.CreateOrderResponse
// @Success     200  {object}  handlers.CreateOrderResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var cart services.Cart
	if err := c.ShouldBindJSON(&cart); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.orders.Create(c.Request.Context(), middleware.UserID(c), key, cart)
	if err != nil {
		writeServiceError(c, err, ErrCodeCreateFailed)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		c.Header(HeaderReplayed, "true")
		status = http.StatusOK
	}
	ok(c, status, CreateOrderResponse{Order: res.Order, Notified: res.Notified})
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders (paginated)
// @Description Newest first, optionally filtered by status. Supports weak ETag via If-None-Match.
// @Tags        Orders
// @Produce     json
// @Param       status     query  string  false  "pending|confirmed|preparing|ready|delivered|cancelled"
// @Param       page       query  int     false  "Page (1-based)"
// @Param       page_size  query  int     false  "Page size (max 100)"
// @Success     200  {object}  handlers.ListOrdersResponse
// @Success     304  "Not Modified"
// @Router      /orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if count, maxTS, err := h.orders.ListVersion(ctx, status); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixMilli()
		}
		etag := fmt.Sprintf(`W/"orders:%s:%d:%d:%d:%d"`, status, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.orders.ListPage(ctx, status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListOrdersResponse{
		Orders: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// OrderStats godoc
// @ID       orderStats
// @Summary  Order counts per status
// @Tags     Orders
// @Produce  json
// @Success  200  {object}  map[string]int64
// @Router   /orders/stats [get]
func (h *Handlers) OrderStats(c *gin.Context) {
	stats, err := h.orders.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	out := make(map[string]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		out[string(s)] = stats[s]
	}
	ok(c, http.StatusOK, out)
}

// GetOrder godoc
// @ID       getOrder
// @Summary  Fetch one order
// @Tags     Orders
// @Produce  json
// @Param    id  path  int  true  "Order id"
// @Success  200  {object}  domain.Order
// @Failure  404  {object}  handlers.ErrorResponse
// @Router   /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	id, valid := orderID(c)
	if !valid {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, o)
}

// TransitionOrder godoc
// @ID          transitionOrder
// @Summary     Apply a lifecycle action
// @Description Same state machine as the chat buttons; the chat message and activity thread follow.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       id    path  int                          true  "Order id"
// @Param       body  body  handlers.TransitionRequest  true  "Action"
// @Success     200  {object}  handlers.TransitionResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Rejected by the state machine or concurrent update"
// @Router      /orders/{id}/transitions [post]
func (h *Handlers) TransitionOrder(c *gin.Context) {
	id, valid := orderID(c)
	if !valid {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	uid := middleware.UserID(c)
	actor := interaction.Actor{ID: uid, Name: strings.TrimSpace(req.ActorName)}
	if actor.Name == "" {
		actor.Name = uid
	}

	o, d, err := h.orders.Transition(c.Request.Context(), id, strings.ToLower(strings.TrimSpace(req.Action)), actor)
	if err != nil {
		writeServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, TransitionResponse{Order: o, Outcome: d.Outcome.String(), From: d.From, To: d.To})
}

// ReconcileOrder godoc
// @ID       reconcileOrder
// @Summary  Repair the order's chat message
// @Tags     Orders
// @Produce  json
// @Param    id  path  int  true  "Order id"
// @Success  200  {object}  handlers.ReconcileResponse
// @Failure  502  {object}  handlers.ErrorResponse  "Messaging channel unavailable"
// @Router   /orders/{id}/reconcile [post]
func (h *Handlers) ReconcileOrder(c *gin.Context) {
	id, valid := orderID(c)
	if !valid {
		return
	}
	o, res, err := h.orders.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err, ErrCodeInternal)
		return
	}
	status := http.StatusOK
	if res == notify.Failed || res == notify.Unavailable {
		status = http.StatusBadGateway
	}
	ok(c, status, ReconcileResponse{Order: o, Result: res.String()})
}
