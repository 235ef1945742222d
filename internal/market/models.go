package market

import "time"

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProducer Role = "PRODUCER"
	RoleAdmin    Role = "ADMIN"
)

// Caller identifies the authenticated user performing an operation.
// Ownership checks inside repository transactions run against it.
type Caller struct {
	UserID string
	Role   Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

type User struct {
	ID           string
	Email        string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

type Producer struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

type Product struct {
	ID          string
	ProducerID  string
	SKU         string
	Name        string
	Unit        string
	Type        string
	PriceCents  int
	MinOrderQty int
	LowStockAt  int
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stock is the per-product on-hand quantity counter. Quantity never
// goes below zero; decrements are validated under a row lock.
type Stock struct {
	ProductID string
	Quantity  int
	UpdatedAt time.Time
}

// DeliverySlot is a dated delivery capacity window for one product.
// Invariant: 0 <= Reserved <= MaxCapacity.
type DeliverySlot struct {
	ID          string
	ProductID   string
	SlotDate    time.Time
	MaxCapacity int
	Reserved    int
	IsAvailable bool
}

// Remaining reports the capacity still open for reservation.
func (s DeliverySlot) Remaining() int { return s.MaxCapacity - s.Reserved }

// Booking reserves quantity against a delivery slot on behalf of an order.
// A TEMPORARY booking carries an expiry; the sweeper releases it once
// ExpiresAt has passed.
type Booking struct {
	ID        string
	SlotID    string
	OrderID   string
	Qty       int
	Status    BookingStatus
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TemporaryHoldTTL is how long a TEMPORARY booking keeps capacity and
// stock before the sweeper may release it.
const TemporaryHoldTTL = 2 * time.Hour

type Order struct {
	ID         string
	UserID     string
	Status     OrderStatus
	TotalCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Qty        int
	PriceCents int
}

// OrderTotal sums line price*qty. Lines are always priced at the
// product's price at the time the line was written.
func OrderTotal(items []OrderItem) int {
	total := 0
	for _, it := range items {
		total += it.PriceCents * it.Qty
	}
	return total
}

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

type Invoice struct {
	ID          string
	OrderID     string
	ProducerID  string
	AmountCents int
	Status      InvoiceStatus
	DueDate     time.Time
	IssuedAt    time.Time
	PaidAt      *time.Time
}

type WithdrawalStatus string

const (
	WithdrawalRequested WithdrawalStatus = "REQUESTED"
	WithdrawalPaid      WithdrawalStatus = "PAID"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
)

type Withdrawal struct {
	ID          string
	ProducerID  string
	AmountCents int
	Status      WithdrawalStatus
	RequestedAt time.Time
	ResolvedAt  *time.Time
}

// Wallet is a derived view: balance = paid invoices - withdrawals that
// are still requested or already paid. There is no stored balance row.
type Wallet struct {
	ProducerID   string
	BalanceCents int
}
