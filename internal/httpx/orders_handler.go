package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/engine"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/redisx"
)

// Engine is the slice of *engine.Engine the handlers call.
type Engine interface {
	CreateOrder(ctx context.Context, d engine.OrderDraft) (orders.Order, error)
	Order(ctx context.Context, orderID string) (orders.Order, error)
	DeleteOrder(ctx context.Context, orderID string) (orders.Order, error)
	SetDiscount(ctx context.Context, orderID string, discount decimal.Decimal) (orders.Order, error)
	ConfirmOrder(ctx context.Context, orderID string) (orders.Order, error)
	PayOrder(ctx context.Context, orderID string) (orders.Order, error)
	CancelOrder(ctx context.Context, orderID string) (orders.Order, error)
	ShipOrder(ctx context.Context, orderID string) (orders.Order, error)
	DeliverOrder(ctx context.Context, orderID string) (orders.Order, error)
	Transition(ctx context.Context, orderID, status string) (orders.Order, error)
	AddLineItem(ctx context.Context, orderID, productID string, qty int) (orders.Order, error)
	UpdateLineItem(ctx context.Context, ref engine.ItemRef, productID string, qty int) (orders.Order, error)
	RemoveLineItem(ctx context.Context, ref engine.ItemRef) (orders.Order, error)

	Products(ctx context.Context) []orders.Product
	UpsertProduct(ctx context.Context, in engine.ProductInput) (orders.Product, error)
	SetStock(ctx context.Context, productID string, stock int) (orders.Product, error)
	Ledger() *engine.Ledger
}

type Idempotency interface {
	Claim(ctx context.Context, externalID, orderID string) (string, bool, error)
	Release(ctx context.Context, externalID string) error
}

type StatusCache interface {
	Status(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	Seed(ctx context.Context, orderID string, e redisx.StatusEntry) (bool, error)
}

type OrdersHandler struct {
	Engine  Engine
	Idem    Idempotency // optional
	Status  StatusCache // optional
	Log     *zap.Logger
	Timeout time.Duration
}

type CreateOrderReq struct {
	ExternalID string             `json:"external_id"`
	Discount   *decimal.Decimal   `json:"discount,omitempty"`
	Items      []engine.ItemInput `json:"items"`
}

type OrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent,omitempty"`
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type discountReq struct {
	Discount decimal.Decimal `json:"discount"`
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.deleteOrder)
			r.Get("/status", h.getStatus)
			r.Patch("/status", h.patchStatus)
			r.Put("/discount", h.setDiscount)
			r.Post("/confirm", h.transition(Engine.ConfirmOrder))
			r.Post("/pay", h.transition(Engine.PayOrder))
			r.Post("/cancel", h.transition(Engine.CancelOrder))
			r.Post("/ship", h.transition(Engine.ShipOrder))
			r.Post("/deliver", h.transition(Engine.DeliverOrder))
			r.Post("/items", h.addItem)
			r.Patch("/items/{itemID}", h.updateItem)
			r.Delete("/items/{itemID}", h.removeItem)
		})
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	draft := engine.OrderDraft{Items: req.Items}
	if req.Discount != nil {
		draft.Discount = *req.Discount
	}

	ext := strings.TrimSpace(req.ExternalID)
	if ext == "" || h.Idem == nil {
		o, err := h.Engine.CreateOrder(ctx, draft)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, OrderResp{Order: o})
		return
	}

	draft.ID = uuid.NewString()
	boundID, claimed, err := h.Idem.Claim(ctx, ext, draft.ID)
	if err != nil {
		h.logger().Error("idempotency claim", zap.String("external_id", ext), zap.Error(err))
		writeError(w, err)
		return
	}
	if !claimed {
		o, err := h.Engine.Order(ctx, boundID)
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeJSON(w, http.StatusConflict, errorBody{Error: "order for external_id is being created", Kind: orders.KindConflict})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, OrderResp{Order: o, Idempotent: true})
		return
	}

	o, err := h.Engine.CreateOrder(ctx, draft)
	if err != nil {
		if rerr := h.Idem.Release(context.WithoutCancel(ctx), ext); rerr != nil {
			h.logger().Warn("idempotency release", zap.String("external_id", ext), zap.Error(rerr))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OrderResp{Order: o})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Engine.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus answers from the status cache and falls back to the engine on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	if h.Status != nil {
		e, ok, err := h.Status.Status(ctx, orderID)
		if err != nil {
			h.logger().Warn("status cache read", zap.String("order_id", orderID), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	o, err := h.Engine.Order(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	e := redisx.StatusEntry{Status: o.Status, UpdatedAt: o.UpdatedAt}
	if h.Status != nil {
		if _, err := h.Status.Seed(ctx, orderID, e); err != nil {
			h.logger().Warn("status cache write", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	if _, err := h.Engine.DeleteOrder(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) setDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	h.respond(w, r, func(ctx context.Context, orderID string) (orders.Order, error) {
		return h.Engine.SetDiscount(ctx, orderID, req.Discount)
	})
}

func (h *OrdersHandler) patchStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	h.respond(w, r, func(ctx context.Context, orderID string) (orders.Order, error) {
		return h.Engine.Transition(ctx, orderID, req.Status)
	})
}

func (h *OrdersHandler) transition(op func(Engine, context.Context, string) (orders.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, r, func(ctx context.Context, orderID string) (orders.Order, error) {
			return op(h.Engine, ctx, orderID)
		})
	}
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req itemReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Engine.AddLineItem(ctx, chi.URLParam(r, "id"), req.ProductID, req.Qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req itemReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	ref := engine.ItemRef{OrderID: chi.URLParam(r, "id"), ItemID: chi.URLParam(r, "itemID")}
	h.respond(w, r, func(ctx context.Context, _ string) (orders.Order, error) {
		return h.Engine.UpdateLineItem(ctx, ref, req.ProductID, req.Qty)
	})
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	ref := engine.ItemRef{OrderID: chi.URLParam(r, "id"), ItemID: chi.URLParam(r, "itemID")}
	h.respond(w, r, func(ctx context.Context, _ string) (orders.Order, error) {
		return h.Engine.RemoveLineItem(ctx, ref)
	})
}

func (h *OrdersHandler) respond(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, orderID string) (orders.Order, error)) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := op(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
