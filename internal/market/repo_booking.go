package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingRepo owns the slot capacity ledger. Every mutation locks the
// slot and stock rows (FOR UPDATE) inside one transaction; concurrent
// requests against the same slot serialize on the row lock, which is
// the only concurrency-control mechanism.
type BookingRepo struct{ DB *pgxpool.Pool }

type ReserveResult struct {
	Booking    Booking
	ProductID  string
	StockLeft  int
	LowStockAt int
}

// Reserve books qty units of a slot for an order the caller owns. On
// success the booking is TEMPORARY with a 2h expiry, the slot's
// reserved counter grows by qty and the product stock shrinks by qty.
// Any precondition failure rolls the transaction back with no partial
// writes; there is no retry, the caller resubmits.
func (r *BookingRepo) Reserve(ctx context.Context, caller Caller, slotID, orderID string, qty int) (ReserveResult, error) {
	var res ReserveResult

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	var slot DeliverySlot
	err = tx.QueryRow(ctx, `
		SELECT id, product_id, slot_date, max_capacity, reserved, is_available
		FROM delivery_slots WHERE id=$1 FOR UPDATE`, slotID).
		Scan(&slot.ID, &slot.ProductID, &slot.SlotDate, &slot.MaxCapacity, &slot.Reserved, &slot.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, NotFoundf("slot %s not found", slotID)
	}
	if err != nil {
		return res, err
	}

	var st Stock
	st.ProductID = slot.ProductID
	if err = tx.QueryRow(ctx, `SELECT quantity FROM stocks WHERE product_id=$1 FOR UPDATE`, slot.ProductID).
		Scan(&st.Quantity); err != nil {
		return res, err
	}

	var o Order
	err = tx.QueryRow(ctx, `SELECT id, user_id, status FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, NotFoundf("order %s not found", orderID)
	}
	if err != nil {
		return res, err
	}
	if o.UserID != caller.UserID && !caller.IsAdmin() {
		return res, Forbiddenf("order %s belongs to another user", orderID)
	}
	if !o.Status.Mutable() {
		return res, Conflictf("order %s is %s and cannot take bookings", orderID, o.Status)
	}

	if err = CheckReserve(slot, st, qty); err != nil {
		return res, err
	}

	expires := time.Now().UTC().Add(TemporaryHoldTTL)
	b := Booking{
		ID:        uuid.NewString(),
		SlotID:    slotID,
		OrderID:   orderID,
		Qty:       qty,
		Status:    BookingTemporary,
		ExpiresAt: &expires,
	}
	if err = tx.QueryRow(ctx, `
		INSERT INTO bookings(id, slot_id, order_id, qty, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		b.ID, b.SlotID, b.OrderID, b.Qty, b.Status, expires).
		Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return res, err
	}

	if _, err = tx.Exec(ctx, `UPDATE delivery_slots SET reserved = reserved + $2 WHERE id=$1`, slotID, qty); err != nil {
		return res, err
	}
	if err = tx.QueryRow(ctx, `
		UPDATE stocks SET quantity = quantity - $2, updated_at=now()
		WHERE product_id=$1 RETURNING quantity`, slot.ProductID, qty).Scan(&res.StockLeft); err != nil {
		return res, err
	}
	if err = tx.QueryRow(ctx, `SELECT low_stock_at FROM products WHERE id=$1`, slot.ProductID).
		Scan(&res.LowStockAt); err != nil {
		return res, err
	}

	res.Booking, res.ProductID = b, slot.ProductID
	return res, tx.Commit(ctx)
}

// bookingForUpdate locks a booking together with the identities needed
// for the ownership check: the order's owner and the producing user.
func bookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (b Booking, orderUser, producerUser string, err error) {
	err = tx.QueryRow(ctx, `
		SELECT b.id, b.slot_id, b.order_id, b.qty, b.status, b.expires_at
		FROM bookings b WHERE b.id=$1 FOR UPDATE`, bookingID).
		Scan(&b.ID, &b.SlotID, &b.OrderID, &b.Qty, &b.Status, &b.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, "", "", NotFoundf("booking %s not found", bookingID)
	}
	if err != nil {
		return b, "", "", err
	}
	err = tx.QueryRow(ctx, `
		SELECT o.user_id, pr.user_id
		FROM bookings b
		JOIN orders o ON o.id = b.order_id
		JOIN delivery_slots s ON s.id = b.slot_id
		JOIN products p ON p.id = s.product_id
		JOIN producers pr ON pr.id = p.producer_id
		WHERE b.id=$1`, bookingID).Scan(&orderUser, &producerUser)
	return b, orderUser, producerUser, err
}

func mayTouchBooking(caller Caller, orderUser, producerUser string) error {
	if caller.IsAdmin() || caller.UserID == orderUser || caller.UserID == producerUser {
		return nil
	}
	return Forbiddenf("booking belongs to another user")
}

// Confirm finalizes a booking: the hold becomes permanent and the
// expiry is cleared.
func (r *BookingRepo) Confirm(ctx context.Context, caller Caller, bookingID string) (Booking, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback(ctx)

	b, orderUser, producerUser, err := bookingForUpdate(ctx, tx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if err = mayTouchBooking(caller, orderUser, producerUser); err != nil {
		return Booking{}, err
	}
	if err = TransitionBooking(b.Status, BookingConfirmed); err != nil {
		return Booking{}, err
	}
	if err = tx.QueryRow(ctx, `
		UPDATE bookings SET status=$2, expires_at=NULL, updated_at=now()
		WHERE id=$1 RETURNING updated_at`, bookingID, BookingConfirmed).Scan(&b.UpdatedAt); err != nil {
		return Booking{}, err
	}
	b.Status, b.ExpiresAt = BookingConfirmed, nil
	return b, tx.Commit(ctx)
}

// Cancel releases a booking: the slot's reserved counter and the
// product stock get the quantity back in the same transaction.
func (r *BookingRepo) Cancel(ctx context.Context, caller Caller, bookingID string) (Booking, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback(ctx)

	b, orderUser, producerUser, err := bookingForUpdate(ctx, tx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if err = mayTouchBooking(caller, orderUser, producerUser); err != nil {
		return Booking{}, err
	}
	if err = TransitionBooking(b.Status, BookingCancelled); err != nil {
		return Booking{}, err
	}
	if err = releaseHold(ctx, tx, b); err != nil {
		return Booking{}, err
	}
	if err = tx.QueryRow(ctx, `
		UPDATE bookings SET status=$2, updated_at=now() WHERE id=$1 RETURNING updated_at`,
		bookingID, BookingCancelled).Scan(&b.UpdatedAt); err != nil {
		return Booking{}, err
	}
	b.Status = BookingCancelled
	return b, tx.Commit(ctx)
}

// releaseHold returns a booking's quantity to the slot and stock
// ledgers. Caller holds the booking row lock.
func releaseHold(ctx context.Context, tx pgx.Tx, b Booking) error {
	if _, err := tx.Exec(ctx, `
		UPDATE delivery_slots SET reserved = reserved - $2 WHERE id=$1`, b.SlotID, b.Qty); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE stocks SET quantity = quantity + $2, updated_at=now()
		FROM delivery_slots s
		WHERE s.id=$1 AND stocks.product_id = s.product_id`, b.SlotID, b.Qty)
	return err
}

func (r *BookingRepo) GetSlot(ctx context.Context, slotID string) (DeliverySlot, error) {
	var slot DeliverySlot
	err := r.DB.QueryRow(ctx, `
		SELECT id, product_id, slot_date, max_capacity, reserved, is_available
		FROM delivery_slots WHERE id=$1`, slotID).
		Scan(&slot.ID, &slot.ProductID, &slot.SlotDate, &slot.MaxCapacity, &slot.Reserved, &slot.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliverySlot{}, NotFoundf("slot %s not found", slotID)
	}
	return slot, err
}

func (r *BookingRepo) CreateSlot(ctx context.Context, caller Caller, productID string, date time.Time, maxCapacity int) (DeliverySlot, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DeliverySlot{}, err
	}
	defer tx.Rollback(ctx)

	if err = ensureProductOwner(ctx, tx, caller, productID); err != nil {
		return DeliverySlot{}, err
	}
	var onHand int
	if err = tx.QueryRow(ctx, `SELECT quantity FROM stocks WHERE product_id=$1`, productID).Scan(&onHand); err != nil {
		return DeliverySlot{}, err
	}
	slot := DeliverySlot{
		ID:          uuid.NewString(),
		ProductID:   productID,
		SlotDate:    date,
		MaxCapacity: maxCapacity,
		IsAvailable: true,
	}
	if err = CheckSlotCapacity(slot, maxCapacity, onHand); err != nil {
		return DeliverySlot{}, err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO delivery_slots(id, product_id, slot_date, max_capacity, reserved, is_available)
		VALUES ($1,$2,$3,$4,0,TRUE)`, slot.ID, productID, date, maxCapacity); err != nil {
		return DeliverySlot{}, err
	}
	return slot, tx.Commit(ctx)
}

type SlotUpdate struct {
	MaxCapacity *int
	IsAvailable *bool
}

// UpdateSlot changes capacity or availability. A capacity below the
// current reserved count, or above the stock on hand, is rejected.
func (r *BookingRepo) UpdateSlot(ctx context.Context, caller Caller, slotID string, upd SlotUpdate) (DeliverySlot, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DeliverySlot{}, err
	}
	defer tx.Rollback(ctx)

	var slot DeliverySlot
	err = tx.QueryRow(ctx, `
		SELECT id, product_id, slot_date, max_capacity, reserved, is_available
		FROM delivery_slots WHERE id=$1 FOR UPDATE`, slotID).
		Scan(&slot.ID, &slot.ProductID, &slot.SlotDate, &slot.MaxCapacity, &slot.Reserved, &slot.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliverySlot{}, NotFoundf("slot %s not found", slotID)
	}
	if err != nil {
		return DeliverySlot{}, err
	}
	if err = ensureProductOwner(ctx, tx, caller, slot.ProductID); err != nil {
		return DeliverySlot{}, err
	}

	if upd.MaxCapacity != nil {
		var onHand int
		if err = tx.QueryRow(ctx, `SELECT quantity FROM stocks WHERE product_id=$1`, slot.ProductID).Scan(&onHand); err != nil {
			return DeliverySlot{}, err
		}
		if err = CheckSlotCapacity(slot, *upd.MaxCapacity, onHand); err != nil {
			return DeliverySlot{}, err
		}
		slot.MaxCapacity = *upd.MaxCapacity
	}
	if upd.IsAvailable != nil {
		slot.IsAvailable = *upd.IsAvailable
	}
	if _, err = tx.Exec(ctx, `
		UPDATE delivery_slots SET max_capacity=$2, is_available=$3 WHERE id=$1`,
		slotID, slot.MaxCapacity, slot.IsAvailable); err != nil {
		return DeliverySlot{}, err
	}
	return slot, tx.Commit(ctx)
}

// DeleteSlot removes a slot. With active bookings present a non-admin
// caller gets a conflict; an admin force-delete cancels those bookings
// first, returning their quantity to stock, then removes the booking
// rows and the slot so nothing references a deleted slot.
func (r *BookingRepo) DeleteSlot(ctx context.Context, caller Caller, slotID string) (cancelled int, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var slot DeliverySlot
	err = tx.QueryRow(ctx, `
		SELECT id, product_id FROM delivery_slots WHERE id=$1 FOR UPDATE`, slotID).
		Scan(&slot.ID, &slot.ProductID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, NotFoundf("slot %s not found", slotID)
	}
	if err != nil {
		return 0, err
	}
	if err = ensureProductOwner(ctx, tx, caller, slot.ProductID); err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, slot_id, order_id, qty, status FROM bookings
		WHERE slot_id=$1 AND status = ANY($2) FOR UPDATE`,
		slotID, []string{string(BookingTemporary), string(BookingPending), string(BookingConfirmed)})
	if err != nil {
		return 0, err
	}
	var active []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.SlotID, &b.OrderID, &b.Qty, &b.Status); err != nil {
			rows.Close()
			return 0, err
		}
		active = append(active, b)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	if len(active) > 0 && !caller.IsAdmin() {
		return 0, Conflictf("slot %s has %d active bookings", slotID, len(active))
	}
	for _, b := range active {
		if err = releaseHold(ctx, tx, b); err != nil {
			return 0, err
		}
	}
	if _, err = tx.Exec(ctx, `DELETE FROM bookings WHERE slot_id=$1`, slotID); err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM delivery_slots WHERE id=$1`, slotID); err != nil {
		return 0, err
	}
	return len(active), tx.Commit(ctx)
}

// ExpiredRelease reports one TEMPORARY booking released by the sweeper.
type ExpiredRelease struct {
	Booking   Booking
	ProductID string
}

// ExpireBatch releases TEMPORARY bookings whose expiry has passed:
// status goes to EXPIRED and the held quantity returns to the slot and
// stock ledgers. SKIP LOCKED lets concurrent sweepers share the work.
func (r *BookingRepo) ExpireBatch(ctx context.Context, now time.Time, limit int) ([]ExpiredRelease, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT b.id, b.slot_id, b.order_id, b.qty, b.expires_at, s.product_id
		FROM bookings b JOIN delivery_slots s ON s.id = b.slot_id
		WHERE b.status=$1 AND b.expires_at <= $2
		ORDER BY b.expires_at
		LIMIT $3
		FOR UPDATE OF b SKIP LOCKED`, BookingTemporary, now, limit)
	if err != nil {
		return nil, err
	}
	var batch []ExpiredRelease
	for rows.Next() {
		var rel ExpiredRelease
		rel.Booking.Status = BookingTemporary
		if err := rows.Scan(&rel.Booking.ID, &rel.Booking.SlotID, &rel.Booking.OrderID,
			&rel.Booking.Qty, &rel.Booking.ExpiresAt, &rel.ProductID); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, rel)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, tx.Commit(ctx)
	}

	for i := range batch {
		b := batch[i].Booking
		if err = releaseHold(ctx, tx, b); err != nil {
			return nil, err
		}
		if _, err = tx.Exec(ctx, `
			UPDATE bookings SET status=$2, updated_at=now() WHERE id=$1`, b.ID, BookingExpired); err != nil {
			return nil, err
		}
		batch[i].Booking.Status = BookingExpired
	}
	return batch, tx.Commit(ctx)
}
