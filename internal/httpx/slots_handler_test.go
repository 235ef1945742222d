package httpx_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nlambert/agrimarket/internal/httpx"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSlotStore struct {
	slots          map[string]*market.DeliverySlot
	owner          string // producer user id owning every product here
	onHand         int
	activeBookings map[string]int // slot id -> count
}

func newFakeSlotStore(owner string, onHand int) *fakeSlotStore {
	return &fakeSlotStore{
		slots:          map[string]*market.DeliverySlot{},
		owner:          owner,
		onHand:         onHand,
		activeBookings: map[string]int{},
	}
}

func (f *fakeSlotStore) GetSlot(_ context.Context, slotID string) (market.DeliverySlot, error) {
	s, ok := f.slots[slotID]
	if !ok {
		return market.DeliverySlot{}, market.NotFoundf("slot not found")
	}
	return *s, nil
}

func (f *fakeSlotStore) CreateSlot(_ context.Context, caller market.Caller, productID string, date time.Time, maxCapacity int) (market.DeliverySlot, error) {
	if caller.UserID != f.owner && !caller.IsAdmin() {
		return market.DeliverySlot{}, market.Forbiddenf("not your product")
	}
	s := market.DeliverySlot{ID: "s" + productID, ProductID: productID, SlotDate: date, MaxCapacity: maxCapacity, IsAvailable: true}
	if err := market.CheckSlotCapacity(s, maxCapacity, f.onHand); err != nil {
		return market.DeliverySlot{}, err
	}
	f.slots[s.ID] = &s
	return s, nil
}

func (f *fakeSlotStore) UpdateSlot(_ context.Context, caller market.Caller, slotID string, upd market.SlotUpdate) (market.DeliverySlot, error) {
	s, ok := f.slots[slotID]
	if !ok {
		return market.DeliverySlot{}, market.NotFoundf("slot not found")
	}
	if caller.UserID != f.owner && !caller.IsAdmin() {
		return market.DeliverySlot{}, market.Forbiddenf("not your product")
	}
	if upd.MaxCapacity != nil {
		if err := market.CheckSlotCapacity(*s, *upd.MaxCapacity, f.onHand); err != nil {
			return market.DeliverySlot{}, err
		}
		s.MaxCapacity = *upd.MaxCapacity
	}
	if upd.IsAvailable != nil {
		s.IsAvailable = *upd.IsAvailable
	}
	return *s, nil
}

func (f *fakeSlotStore) DeleteSlot(_ context.Context, caller market.Caller, slotID string) (int, error) {
	if _, ok := f.slots[slotID]; !ok {
		return 0, market.NotFoundf("slot not found")
	}
	if caller.UserID != f.owner && !caller.IsAdmin() {
		return 0, market.Forbiddenf("not your product")
	}
	active := f.activeBookings[slotID]
	if active > 0 && !caller.IsAdmin() {
		return 0, market.Conflictf("slot has %d active bookings", active)
	}
	delete(f.slots, slotID)
	delete(f.activeBookings, slotID)
	return active, nil
}

func newSlotsRouter(store *fakeSlotStore) http.Handler {
	h := &httpx.SlotsHandler{Store: store, Log: zap.NewNop()}
	return newRouter(h.Register)
}

func TestSlotLifecycle(t *testing.T) {
	producer := token(t, "prod-1", market.RoleProducer)

	t.Run("create then read", func(t *testing.T) {
		store := newFakeSlotStore("prod-1", 20)
		r := newSlotsRouter(store)

		rec := do(t, r, http.MethodPost, "/api/products/p1/slots", producer,
			map[string]any{"slot_date": "2026-09-01", "max_capacity": 10})
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decodeBody[map[string]any](t, rec)
		require.Equal(t, "2026-09-01", resp["slot_date"])
		require.EqualValues(t, 10, resp["remaining"])

		rec = do(t, r, http.MethodGet, "/api/slots/sp1", token(t, "client-1", market.RoleClient), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("capacity above stock on hand is rejected", func(t *testing.T) {
		store := newFakeSlotStore("prod-1", 5)
		r := newSlotsRouter(store)

		rec := do(t, r, http.MethodPost, "/api/products/p1/slots", producer,
			map[string]any{"slot_date": "2026-09-01", "max_capacity": 10})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("clients cannot manage slots", func(t *testing.T) {
		store := newFakeSlotStore("prod-1", 20)
		r := newSlotsRouter(store)

		rec := do(t, r, http.MethodPost, "/api/products/p1/slots", token(t, "client-1", market.RoleClient),
			map[string]any{"slot_date": "2026-09-01", "max_capacity": 10})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad date format", func(t *testing.T) {
		store := newFakeSlotStore("prod-1", 20)
		r := newSlotsRouter(store)

		rec := do(t, r, http.MethodPost, "/api/products/p1/slots", producer,
			map[string]any{"slot_date": "01/09/2026", "max_capacity": 10})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateSlot(t *testing.T) {
	producer := token(t, "prod-1", market.RoleProducer)

	setup := func(reserved int) (*fakeSlotStore, http.Handler) {
		store := newFakeSlotStore("prod-1", 20)
		store.slots["s1"] = &market.DeliverySlot{ID: "s1", ProductID: "p1", MaxCapacity: 10, Reserved: reserved, IsAvailable: true}
		return store, newSlotsRouter(store)
	}

	t.Run("shrink above reserved is allowed", func(t *testing.T) {
		store, r := setup(4)
		rec := do(t, r, http.MethodPatch, "/api/slots/s1", producer, map[string]any{"max_capacity": 6})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 6, store.slots["s1"].MaxCapacity)
	})

	t.Run("shrink below reserved is rejected", func(t *testing.T) {
		store, r := setup(4)
		rec := do(t, r, http.MethodPatch, "/api/slots/s1", producer, map[string]any{"max_capacity": 3})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, 10, store.slots["s1"].MaxCapacity)
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		_, r := setup(0)
		rec := do(t, r, http.MethodPatch, "/api/slots/s1", producer, map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("closing a slot", func(t *testing.T) {
		store, r := setup(0)
		rec := do(t, r, http.MethodPatch, "/api/slots/s1", producer, map[string]any{"is_available": false})
		require.Equal(t, http.StatusOK, rec.Code)
		require.False(t, store.slots["s1"].IsAvailable)
	})
}

func TestDeleteSlot(t *testing.T) {
	setup := func(active int) (*fakeSlotStore, http.Handler) {
		store := newFakeSlotStore("prod-1", 20)
		store.slots["s1"] = &market.DeliverySlot{ID: "s1", ProductID: "p1", MaxCapacity: 10, Reserved: active, IsAvailable: true}
		store.activeBookings["s1"] = active
		return store, newSlotsRouter(store)
	}

	t.Run("producer delete with active bookings is a conflict", func(t *testing.T) {
		store, r := setup(2)
		rec := do(t, r, http.MethodDelete, "/api/slots/s1", token(t, "prod-1", market.RoleProducer), nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, store.slots, "s1")
	})

	t.Run("admin delete cancels active bookings", func(t *testing.T) {
		store, r := setup(2)
		rec := do(t, r, http.MethodDelete, "/api/slots/s1", token(t, "admin-1", market.RoleAdmin), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[map[string]any](t, rec)
		require.EqualValues(t, 2, resp["cancelled_bookings"])
		require.NotContains(t, store.slots, "s1")
	})

	t.Run("producer delete without bookings", func(t *testing.T) {
		store, r := setup(0)
		rec := do(t, r, http.MethodDelete, "/api/slots/s1", token(t, "prod-1", market.RoleProducer), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, store.slots, "s1")
	})
}
