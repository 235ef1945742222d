package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/nlambert/agrimarket/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type SlotStore interface {
	GetSlot(ctx context.Context, slotID string) (market.DeliverySlot, error)
	CreateSlot(ctx context.Context, caller market.Caller, productID string, date time.Time, maxCapacity int) (market.DeliverySlot, error)
	UpdateSlot(ctx context.Context, caller market.Caller, slotID string, upd market.SlotUpdate) (market.DeliverySlot, error)
	DeleteSlot(ctx context.Context, caller market.Caller, slotID string) (int, error)
}

type SlotsHandler struct {
	Store SlotStore
	Redis *redis.Client
	Log   *zap.Logger
}

func (h *SlotsHandler) Register(r chi.Router) {
	r.Get("/slots/{id}", h.getSlot)
	r.With(RequireRole(market.RoleProducer)).Post("/products/{id}/slots", h.createSlot)
	r.With(RequireRole(market.RoleProducer)).Patch("/slots/{id}", h.updateSlot)
	r.With(RequireRole(market.RoleProducer)).Delete("/slots/{id}", h.deleteSlot)
}

type slotResp struct {
	SlotID      string `json:"slot_id"`
	ProductID   string `json:"product_id"`
	SlotDate    string `json:"slot_date"`
	MaxCapacity int    `json:"max_capacity"`
	Reserved    int    `json:"reserved"`
	Remaining   int    `json:"remaining"`
	IsAvailable bool   `json:"is_available"`
}

func toSlotResp(s market.DeliverySlot) slotResp {
	return slotResp{
		SlotID:      s.ID,
		ProductID:   s.ProductID,
		SlotDate:    s.SlotDate.Format("2006-01-02"),
		MaxCapacity: s.MaxCapacity,
		Reserved:    s.Reserved,
		Remaining:   s.Remaining(),
		IsAvailable: s.IsAvailable,
	}
}

func (h *SlotsHandler) getSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// remaining-capacity reads are hot; serve from cache when fresh
	key := fmt.Sprintf(redisx.KeySlotLeft, slotID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	slot, err := h.Store.GetSlot(ctx, slotID)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if h.Redis != nil {
		if b, err := json.Marshal(toSlotResp(slot)); err == nil {
			_ = h.Redis.Set(ctx, key, b, redisx.TTLSlotCache).Err()
		}
	}
	writeJSON(w, http.StatusOK, toSlotResp(slot))
}

type createSlotReq struct {
	SlotDate    string `json:"slot_date"`
	MaxCapacity int    `json:"max_capacity"`
}

func (h *SlotsHandler) createSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req createSlotReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.SlotDate)
	if err != nil {
		writeError(h.Log, w, r, market.Validationf("slot_date must be YYYY-MM-DD"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	slot, err := h.Store.CreateSlot(ctx, caller, chi.URLParam(r, "id"), date, req.MaxCapacity)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResp(slot))
}

type updateSlotReq struct {
	MaxCapacity *int  `json:"max_capacity"`
	IsAvailable *bool `json:"is_available"`
}

func (h *SlotsHandler) updateSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req updateSlotReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if req.MaxCapacity == nil && req.IsAvailable == nil {
		writeError(h.Log, w, r, market.Validationf("nothing to update"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	slotID := chi.URLParam(r, "id")
	slot, err := h.Store.UpdateSlot(ctx, caller, slotID, market.SlotUpdate{
		MaxCapacity: req.MaxCapacity,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeySlotLeft, slotID)).Err()
	}
	writeJSON(w, http.StatusOK, toSlotResp(slot))
}

func (h *SlotsHandler) deleteSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	slotID := chi.URLParam(r, "id")
	cancelled, err := h.Store.DeleteSlot(ctx, caller, slotID)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeySlotLeft, slotID)).Err()
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": slotID, "cancelled_bookings": cancelled})
}
