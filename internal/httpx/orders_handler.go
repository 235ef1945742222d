package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nlambert/agrimarket/internal/market"
	"go.uber.org/zap"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, caller market.Caller) (market.Order, error)
	GetOrder(ctx context.Context, caller market.Caller, orderID string) (market.Order, []market.OrderItem, error)
	AddItem(ctx context.Context, caller market.Caller, orderID, productID string, qty int) (market.AddItemResult, error)
	SetOrderStatus(ctx context.Context, orderID string, to market.OrderStatus) (market.Order, error)
}

type OrdersHandler struct {
	Store   OrderStore
	Notify  EventPublisher // market.notifications, for low-stock signals
	Log     *zap.Logger
	Service string
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/items", h.addItem)
	r.With(RequireRole()).Patch("/admin/orders/{id}/status", h.setStatus)
}

type orderItemResp struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

type orderResp struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Status     string          `json:"status"`
	TotalCents int             `json:"total_cents"`
	Items      []orderItemResp `json:"items,omitempty"`
}

func toOrderResp(o market.Order, items []market.OrderItem) orderResp {
	resp := orderResp{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemResp{
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			PriceCents: it.PriceCents,
		})
	}
	return resp
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.CreateOrder(ctx, caller)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o, nil))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, items, err := h.Store.GetOrder(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, items))
}

// addItemReq deliberately has no price field: lines are always priced
// at the product's current price on the server side, so a price sent by
// the client never reaches the repository.
type addItemReq struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req addItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if req.ProductID == "" {
		writeError(h.Log, w, r, market.Validationf("product_id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Store.AddItem(ctx, caller, chi.URLParam(r, "id"), req.ProductID, req.Qty)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	if h.Notify != nil && res.Product.LowStockAt > 0 && res.StockLeft <= res.Product.LowStockAt {
		ev := market.NewEnvelope(market.EventStockLow, h.Service, res.Product.ID, market.StockLowPayload{
			ProductID: res.Product.ID,
			Remaining: res.StockLeft,
			Threshold: res.Product.LowStockAt,
		})
		publishEnvelope(h.Notify, market.PartitionKey(res.Product.ID), ev)
	}

	writeJSON(w, http.StatusOK, toOrderResp(res.Order, []market.OrderItem{res.Item}))
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if req.Status == "" {
		writeError(h.Log, w, r, market.Validationf("status is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.SetOrderStatus(ctx, chi.URLParam(r, "id"), market.OrderStatus(req.Status))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, nil))
}
