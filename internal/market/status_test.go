package market

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	legal := []struct{ from, to OrderStatus }{
		{OrderDraft, OrderPending},
		{OrderPending, OrderConfirmed},
		{OrderConfirmed, OrderShipped},
		{OrderShipped, OrderDelivered},
		{OrderDelivered, OrderInvoicePending},
		{OrderConfirmed, OrderInvoicePending},
		{OrderInvoicePending, OrderInvoicePaid},
		{OrderInvoicePending, OrderInvoiceOverdue},
		{OrderInvoiceOverdue, OrderInvoicePaid},
		{OrderDraft, OrderCancelled},
	}
	for _, tc := range legal {
		require.NoError(t, TransitionOrder(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct{ from, to OrderStatus }{
		{OrderDraft, OrderShipped},
		{OrderShipped, OrderCancelled},
		{OrderInvoicePaid, OrderPending},
		{OrderCancelled, OrderDraft},
		{OrderDelivered, OrderConfirmed},
	}
	for _, tc := range illegal {
		err := TransitionOrder(tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		require.Equal(t, KindConflict, KindOf(err))
	}
}

func TestOrderStatusMutable(t *testing.T) {
	require.True(t, OrderDraft.Mutable())
	require.True(t, OrderPending.Mutable())
	require.True(t, OrderInvoicePending.Mutable())
	require.False(t, OrderConfirmed.Mutable())
	require.False(t, OrderCancelled.Mutable())
}

func TestBookingTransitions(t *testing.T) {
	require.NoError(t, TransitionBooking(BookingTemporary, BookingConfirmed))
	require.NoError(t, TransitionBooking(BookingTemporary, BookingExpired))
	require.NoError(t, TransitionBooking(BookingPending, BookingCancelled))
	require.NoError(t, TransitionBooking(BookingConfirmed, BookingCancelled))

	require.Error(t, TransitionBooking(BookingExpired, BookingConfirmed))
	require.Error(t, TransitionBooking(BookingCancelled, BookingTemporary))
	require.Error(t, TransitionBooking(BookingConfirmed, BookingExpired))
}

func TestBookingStatusActive(t *testing.T) {
	require.True(t, BookingTemporary.Active())
	require.True(t, BookingPending.Active())
	require.True(t, BookingConfirmed.Active())
	require.False(t, BookingCancelled.Active())
	require.False(t, BookingExpired.Active())
}
