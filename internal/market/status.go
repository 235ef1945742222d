package market

type OrderStatus string

const (
	OrderDraft          OrderStatus = "DRAFT"
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderInvoicePending OrderStatus = "INVOICE_PENDING"
	OrderInvoicePaid    OrderStatus = "INVOICE_PAID"
	OrderInvoiceOverdue OrderStatus = "INVOICE_OVERDUE"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderDraft:          {OrderPending: true, OrderCancelled: true},
	OrderPending:        {OrderConfirmed: true, OrderCancelled: true},
	OrderConfirmed:      {OrderShipped: true, OrderInvoicePending: true, OrderCancelled: true},
	OrderShipped:        {OrderDelivered: true},
	OrderDelivered:      {OrderInvoicePending: true},
	OrderInvoicePending: {OrderInvoicePaid: true, OrderInvoiceOverdue: true, OrderCancelled: true},
	OrderInvoiceOverdue: {OrderInvoicePaid: true},
	OrderInvoicePaid:    {},
	OrderCancelled:      {},
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderNext[s][to]
}

// Mutable reports whether order lines may still be added or changed.
func (s OrderStatus) Mutable() bool {
	return s == OrderDraft || s == OrderPending || s == OrderInvoicePending
}

// TransitionOrder validates a status change and returns a conflict
// error naming both states when the move is illegal.
func TransitionOrder(from, to OrderStatus) error {
	if !from.CanTransition(to) {
		return Conflictf("order status %s cannot move to %s", from, to)
	}
	return nil
}

type BookingStatus string

const (
	BookingTemporary BookingStatus = "TEMPORARY"
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

var bookingNext = map[BookingStatus]map[BookingStatus]bool{
	BookingTemporary: {BookingPending: true, BookingConfirmed: true, BookingCancelled: true, BookingExpired: true},
	BookingPending:   {BookingConfirmed: true, BookingCancelled: true},
	BookingConfirmed: {BookingCancelled: true},
	BookingCancelled: {},
	BookingExpired:   {},
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	return bookingNext[s][to]
}

// Active bookings hold slot capacity and stock.
func (s BookingStatus) Active() bool {
	return s == BookingTemporary || s == BookingPending || s == BookingConfirmed
}

func TransitionBooking(from, to BookingStatus) error {
	if !from.CanTransition(to) {
		return Conflictf("booking status %s cannot move to %s", from, to)
	}
	return nil
}
