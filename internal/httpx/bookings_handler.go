package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	kafkax "github.com/nlambert/agrimarket/internal/kafka"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/nlambert/agrimarket/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher is what handlers need from the async Kafka producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

func publishEnvelope(p EventPublisher, key []byte, ev market.Envelope) {
	p.Publish(key, kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// BookingStore is the slice of the booking repository the handler uses.
type BookingStore interface {
	Reserve(ctx context.Context, caller market.Caller, slotID, orderID string, qty int) (market.ReserveResult, error)
	Confirm(ctx context.Context, caller market.Caller, bookingID string) (market.Booking, error)
	Cancel(ctx context.Context, caller market.Caller, bookingID string) (market.Booking, error)
}

type BookingsHandler struct {
	Store   BookingStore
	Events  EventPublisher // market.bookings
	Notify  EventPublisher // market.notifications
	Redis   *redis.Client
	Log     *zap.Logger
	Service string
}

func (h *BookingsHandler) Register(r chi.Router) {
	r.Post("/slots/{id}/bookings", h.createBooking)
	r.Post("/bookings/{id}/confirm", h.confirmBooking)
	r.Delete("/bookings/{id}", h.cancelBooking)
}

type createBookingReq struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

type bookingResp struct {
	BookingID string     `json:"booking_id"`
	SlotID    string     `json:"slot_id"`
	OrderID   string     `json:"order_id"`
	Qty       int        `json:"qty"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func toBookingResp(b market.Booking) bookingResp {
	return bookingResp{
		BookingID: b.ID,
		SlotID:    b.SlotID,
		OrderID:   b.OrderID,
		Qty:       b.Qty,
		Status:    string(b.Status),
		ExpiresAt: b.ExpiresAt,
	}
}

func (h *BookingsHandler) createBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	slotID := chi.URLParam(r, "id")

	var req createBookingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if req.OrderID == "" {
		writeError(h.Log, w, r, market.Validationf("order_id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency: replay the booking id recorded for this key.
	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" && h.Redis != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemBooking, k)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			writeJSON(w, http.StatusOK, bookingResp{BookingID: id, SlotID: slotID, OrderID: req.OrderID, Qty: req.Qty, Status: string(market.BookingTemporary)})
			return
		}
	}

	res, err := h.Store.Reserve(ctx, caller, slotID, req.OrderID, req.Qty)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, res.Booking.ID, redisx.TTLIdempotency).Err()
	}
	if h.Redis != nil {
		// the cached remaining capacity is stale now
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeySlotLeft, slotID)).Err()
	}

	h.publishBookingEvent(market.EventBookingCreated, res.Booking, res.ProductID)
	h.maybeNotifyLowStock(res.ProductID, res.StockLeft, res.LowStockAt)

	writeJSON(w, http.StatusCreated, toBookingResp(res.Booking))
}

func (h *BookingsHandler) confirmBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Store.Confirm(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	h.publishBookingEvent(market.EventBookingConfirmed, b, "")
	writeJSON(w, http.StatusOK, toBookingResp(b))
}

func (h *BookingsHandler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Store.Cancel(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeySlotLeft, b.SlotID)).Err()
	}
	h.publishBookingEvent(market.EventBookingCancelled, b, "")
	writeJSON(w, http.StatusOK, toBookingResp(b))
}

func (h *BookingsHandler) publishBookingEvent(eventType string, b market.Booking, productID string) {
	if h.Events == nil {
		return
	}
	ev := market.NewEnvelope(eventType, h.Service, b.OrderID, market.BookingEventPayload{
		BookingID: b.ID,
		SlotID:    b.SlotID,
		OrderID:   b.OrderID,
		ProductID: productID,
		Qty:       b.Qty,
		ExpiresAt: b.ExpiresAt,
	})
	publishEnvelope(h.Events, market.PartitionKey(b.OrderID), ev)
}

// maybeNotifyLowStock is fire-and-forget: losing the event never fails
// the booking.
func (h *BookingsHandler) maybeNotifyLowStock(productID string, stockLeft, threshold int) {
	if h.Notify == nil || threshold <= 0 || stockLeft > threshold {
		return
	}
	ev := market.NewEnvelope(market.EventStockLow, h.Service, productID, market.StockLowPayload{
		ProductID: productID,
		Remaining: stockLeft,
		Threshold: threshold,
	})
	publishEnvelope(h.Notify, market.PartitionKey(productID), ev)
}
