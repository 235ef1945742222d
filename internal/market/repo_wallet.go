package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalletRepo covers producer payout bookkeeping: invoices, the derived
// wallet balance and withdrawals. The balance is never stored; it is an
// aggregate over paid invoices minus requested-or-paid withdrawals.
type WalletRepo struct{ DB *pgxpool.Pool }

const balanceSQL = `
	SELECT COALESCE((SELECT SUM(amount_cents) FROM invoices
	                 WHERE producer_id=$1 AND status='PAID'), 0)
	     - COALESCE((SELECT SUM(amount_cents) FROM withdrawals
	                 WHERE producer_id=$1 AND status IN ('REQUESTED','PAID')), 0)`

func (r *WalletRepo) Wallet(ctx context.Context, caller Caller) (Wallet, error) {
	producerID, err := producerIDForUser(ctx, r.DB, caller.UserID)
	if err != nil {
		return Wallet{}, err
	}
	w := Wallet{ProducerID: producerID}
	err = r.DB.QueryRow(ctx, balanceSQL, producerID).Scan(&w.BalanceCents)
	return w, err
}

// RequestWithdrawal inserts a REQUESTED withdrawal after validating it
// against the balance. The producer row is locked first so concurrent
// requests cannot both pass the balance check.
func (r *WalletRepo) RequestWithdrawal(ctx context.Context, caller Caller, amountCents int) (Withdrawal, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Withdrawal{}, err
	}
	defer tx.Rollback(ctx)

	producerID, err := producerIDForUser(ctx, tx, caller.UserID)
	if err != nil {
		return Withdrawal{}, err
	}
	if _, err = tx.Exec(ctx, `SELECT 1 FROM producers WHERE id=$1 FOR UPDATE`, producerID); err != nil {
		return Withdrawal{}, err
	}

	var balance int
	if err = tx.QueryRow(ctx, balanceSQL, producerID).Scan(&balance); err != nil {
		return Withdrawal{}, err
	}
	if err = CheckWithdrawal(balance, amountCents); err != nil {
		return Withdrawal{}, err
	}

	w := Withdrawal{
		ID:          uuid.NewString(),
		ProducerID:  producerID,
		AmountCents: amountCents,
		Status:      WithdrawalRequested,
	}
	if err = tx.QueryRow(ctx, `
		INSERT INTO withdrawals(id, producer_id, amount_cents, status)
		VALUES ($1,$2,$3,$4) RETURNING requested_at`,
		w.ID, w.ProducerID, w.AmountCents, w.Status).Scan(&w.RequestedAt); err != nil {
		return Withdrawal{}, err
	}
	return w, tx.Commit(ctx)
}

// ResolveWithdrawal moves a REQUESTED withdrawal to PAID or REJECTED.
func (r *WalletRepo) ResolveWithdrawal(ctx context.Context, withdrawalID string, to WithdrawalStatus) (Withdrawal, error) {
	if to != WithdrawalPaid && to != WithdrawalRejected {
		return Withdrawal{}, Validationf("withdrawal can only be resolved to PAID or REJECTED")
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Withdrawal{}, err
	}
	defer tx.Rollback(ctx)

	var w Withdrawal
	err = tx.QueryRow(ctx, `
		SELECT id, producer_id, amount_cents, status, requested_at
		FROM withdrawals WHERE id=$1 FOR UPDATE`, withdrawalID).
		Scan(&w.ID, &w.ProducerID, &w.AmountCents, &w.Status, &w.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, NotFoundf("withdrawal %s not found", withdrawalID)
	}
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Status != WithdrawalRequested {
		return Withdrawal{}, Conflictf("withdrawal %s is already %s", withdrawalID, w.Status)
	}
	now := time.Now().UTC()
	if _, err = tx.Exec(ctx, `
		UPDATE withdrawals SET status=$2, resolved_at=$3 WHERE id=$1`, withdrawalID, to, now); err != nil {
		return Withdrawal{}, err
	}
	w.Status, w.ResolvedAt = to, &now
	return w, tx.Commit(ctx)
}

// IssueInvoices creates one PENDING invoice per producer with items in
// the order, summing that producer's lines, and moves the order to
// INVOICE_PENDING in the same transaction.
func (r *WalletRepo) IssueInvoices(ctx context.Context, orderID string, dueDate time.Time) ([]Invoice, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var status OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("order %s not found", orderID)
	}
	if err != nil {
		return nil, err
	}
	if err = TransitionOrder(status, OrderInvoicePending); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT p.producer_id, SUM(oi.qty * oi.price_cents)
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id=$1 GROUP BY p.producer_id`, orderID)
	if err != nil {
		return nil, err
	}
	type share struct {
		producerID string
		amount     int
	}
	var shares []share
	for rows.Next() {
		var s share
		if err := rows.Scan(&s.producerID, &s.amount); err != nil {
			rows.Close()
			return nil, err
		}
		shares = append(shares, s)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, Validationf("order %s has no items to invoice", orderID)
	}

	var out []Invoice
	for _, s := range shares {
		inv := Invoice{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProducerID:  s.producerID,
			AmountCents: s.amount,
			Status:      InvoicePending,
			DueDate:     dueDate,
		}
		if err = tx.QueryRow(ctx, `
			INSERT INTO invoices(id, order_id, producer_id, amount_cents, status, due_date)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING issued_at`,
			inv.ID, inv.OrderID, inv.ProducerID, inv.AmountCents, inv.Status, inv.DueDate).
			Scan(&inv.IssuedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}

	if _, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
		orderID, OrderInvoicePending); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// MarkInvoicePaid settles an invoice, crediting the producer's wallet
// (by virtue of the balance aggregate). Once the order has no pending
// invoices left it moves to INVOICE_PAID in the same transaction.
func (r *WalletRepo) MarkInvoicePaid(ctx context.Context, invoiceID string) (Invoice, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Invoice{}, err
	}
	defer tx.Rollback(ctx)

	var inv Invoice
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, producer_id, amount_cents, status, due_date, issued_at
		FROM invoices WHERE id=$1 FOR UPDATE`, invoiceID).
		Scan(&inv.ID, &inv.OrderID, &inv.ProducerID, &inv.AmountCents, &inv.Status, &inv.DueDate, &inv.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, NotFoundf("invoice %s not found", invoiceID)
	}
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoicePending {
		return Invoice{}, Conflictf("invoice %s is already %s", invoiceID, inv.Status)
	}

	now := time.Now().UTC()
	if _, err = tx.Exec(ctx, `UPDATE invoices SET status=$2, paid_at=$3 WHERE id=$1`,
		invoiceID, InvoicePaid, now); err != nil {
		return Invoice{}, err
	}
	inv.Status, inv.PaidAt = InvoicePaid, &now

	var remaining int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices WHERE order_id=$1 AND status='PENDING'`, inv.OrderID).
		Scan(&remaining); err != nil {
		return Invoice{}, err
	}
	if remaining == 0 {
		var status OrderStatus
		if err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, inv.OrderID).
			Scan(&status); err != nil {
			return Invoice{}, err
		}
		if err = TransitionOrder(status, OrderInvoicePaid); err != nil {
			return Invoice{}, err
		}
		if _, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
			inv.OrderID, OrderInvoicePaid); err != nil {
			return Invoice{}, err
		}
	}
	return inv, tx.Commit(ctx)
}

// CancelInvoice voids a pending invoice without touching the order.
func (r *WalletRepo) CancelInvoice(ctx context.Context, invoiceID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE invoices SET status=$2 WHERE id=$1 AND status=$3`,
		invoiceID, InvoiceCancelled, InvoicePending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return Conflictf("invoice %s is not pending", invoiceID)
	}
	return nil
}
