package market

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo covers products, stock adjustments and orders.
type Repo struct{ DB *pgxpool.Pool }

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func producerIDForUser(ctx context.Context, q querier, userID string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM producers WHERE user_id=$1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", Forbiddenf("no producer account for caller")
	}
	return id, err
}

func (r *Repo) CreateProduct(ctx context.Context, caller Caller, p Product, initialStock int) (Product, error) {
	if p.Name == "" || p.SKU == "" || p.PriceCents < 0 || initialStock < 0 {
		return Product{}, Validationf("product needs a name, a sku, and non-negative price and stock")
	}
	if p.MinOrderQty <= 0 {
		p.MinOrderQty = 1
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Product{}, err
	}
	defer tx.Rollback(ctx)

	switch caller.Role {
	case RoleProducer:
		if p.ProducerID, err = producerIDForUser(ctx, tx, caller.UserID); err != nil {
			return Product{}, err
		}
	case RoleAdmin:
		if p.ProducerID == "" {
			return Product{}, Validationf("producer_id is required")
		}
	default:
		return Product{}, Forbiddenf("only producers can create products")
	}

	p.ID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO products(id, producer_id, sku, name, unit, type, price_cents, min_order_qty, low_stock_at, is_available)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.ProducerID, p.SKU, p.Name, p.Unit, p.Type, p.PriceCents, p.MinOrderQty, p.LowStockAt, p.IsAvailable,
	)
	if err != nil {
		return Product{}, err
	}
	if _, err = tx.Exec(ctx, `INSERT INTO stocks(product_id, quantity) VALUES ($1,$2)`, p.ID, initialStock); err != nil {
		return Product{}, err
	}
	return p, tx.Commit(ctx)
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, producer_id, sku, name, unit, type, price_cents, min_order_qty, low_stock_at, is_available, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ProducerID, &p.SKU, &p.Name, &p.Unit, &p.Type,
			&p.PriceCents, &p.MinOrderQty, &p.LowStockAt, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStock is the administrative stock adjustment: an absolute set, not
// a delta. Producers may only adjust their own products.
func (r *Repo) SetStock(ctx context.Context, caller Caller, productID string, qty int) error {
	if qty < 0 {
		return Validationf("stock quantity must not be negative")
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := ensureProductOwner(ctx, tx, caller, productID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `UPDATE stocks SET quantity=$2, updated_at=now() WHERE product_id=$1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFoundf("no stock row for product %s", productID)
	}
	return tx.Commit(ctx)
}

// EnsureOwner checks that the caller may manage the product: admins
// always, producers only for their own products.
func (r *Repo) EnsureOwner(ctx context.Context, caller Caller, productID string) error {
	return ensureProductOwner(ctx, r.DB, caller, productID)
}

func ensureProductOwner(ctx context.Context, q querier, caller Caller, productID string) error {
	if caller.IsAdmin() {
		var exists bool
		err := q.QueryRow(ctx, `SELECT TRUE FROM products WHERE id=$1`, productID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundf("product %s not found", productID)
		}
		return err
	}
	var ownerUser string
	err := q.QueryRow(ctx, `
		SELECT pr.user_id FROM products p JOIN producers pr ON pr.id = p.producer_id
		WHERE p.id=$1`, productID).Scan(&ownerUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundf("product %s not found", productID)
	}
	if err != nil {
		return err
	}
	if ownerUser != caller.UserID {
		return Forbiddenf("product %s belongs to another producer", productID)
	}
	return nil
}

func (r *Repo) CreateOrder(ctx context.Context, caller Caller) (Order, error) {
	o := Order{ID: uuid.NewString(), UserID: caller.UserID, Status: OrderDraft}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status) VALUES ($1,$2,$3)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.Status).Scan(&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder returns the order with its lines. Reading an INVOICE_PENDING
// order re-derives overdue state from its invoices, so stale statuses
// self-correct on read.
func (r *Repo) GetOrder(ctx context.Context, caller Caller, orderID string) (Order, []OrderItem, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, created_at, updated_at FROM orders WHERE id=$1`,
		orderID).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, nil, NotFoundf("order %s not found", orderID)
	}
	if err != nil {
		return Order{}, nil, err
	}
	if o.UserID != caller.UserID && !caller.IsAdmin() {
		return Order{}, nil, Forbiddenf("order %s belongs to another user", orderID)
	}

	if o.Status == OrderInvoicePending {
		if synced, err := r.syncOverdue(ctx, &o); err != nil {
			return Order{}, nil, err
		} else if synced {
			o.Status = OrderInvoiceOverdue
		}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, nil, err
		}
		items = append(items, it)
	}
	return o, items, rows.Err()
}

func (r *Repo) syncOverdue(ctx context.Context, o *Order) (bool, error) {
	var overdue bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices WHERE order_id=$1 AND status='PENDING' AND due_date < CURRENT_DATE
		)`, o.ID).Scan(&overdue)
	if err != nil || !overdue {
		return false, err
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		o.ID, OrderInvoiceOverdue, OrderInvoicePending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// AddItemResult carries what the handler needs for the response and the
// best-effort low-stock signal.
type AddItemResult struct {
	Order     Order
	Item      OrderItem
	Product   Product
	StockLeft int
}

// AddItem appends qty units of a product to a mutable order, always at
// the product's current price. An existing line for the same product is
// merged by summing quantities; the merged line is repriced at the
// current price as well. Stock is decremented and the order total
// recomputed from all lines, in the same transaction.
func (r *Repo) AddItem(ctx context.Context, caller Caller, orderID, productID string, qty int) (AddItemResult, error) {
	var res AddItemResult

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	var o Order
	err = tx.QueryRow(ctx, `SELECT id, user_id, status FROM orders WHERE id=$1 FOR UPDATE`, orderID).
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

	var p Product
	err = tx.QueryRow(ctx, `
		SELECT id, producer_id, price_cents, min_order_qty, low_stock_at, is_available
		FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.ProducerID, &p.PriceCents, &p.MinOrderQty, &p.LowStockAt, &p.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, NotFoundf("product %s not found", productID)
	}
	if err != nil {
		return res, err
	}

	var st Stock
	st.ProductID = productID
	if err = tx.QueryRow(ctx, `SELECT quantity FROM stocks WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&st.Quantity); err != nil {
		return res, err
	}

	if err = CheckAddItem(o, p, st, qty); err != nil {
		return res, err
	}

	var it OrderItem
	err = tx.QueryRow(ctx, `
		INSERT INTO order_items(id, order_id, product_id, qty, price_cents)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id, product_id) DO UPDATE
			SET qty = order_items.qty + EXCLUDED.qty, price_cents = EXCLUDED.price_cents
		RETURNING id, order_id, product_id, qty, price_cents`,
		uuid.NewString(), orderID, productID, qty, p.PriceCents).
		Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents)
	if err != nil {
		return res, err
	}

	if err = tx.QueryRow(ctx, `
		UPDATE stocks SET quantity = quantity - $2, updated_at=now()
		WHERE product_id=$1 RETURNING quantity`, productID, qty).Scan(&res.StockLeft); err != nil {
		return res, err
	}

	if err = tx.QueryRow(ctx, `
		UPDATE orders SET total_cents = (
			SELECT COALESCE(SUM(qty * price_cents), 0) FROM order_items WHERE order_id=$1
		), updated_at=now()
		WHERE id=$1 RETURNING status, total_cents, created_at, updated_at`, orderID).
		Scan(&o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return res, err
	}

	res.Order, res.Item, res.Product = o, it, p
	return res, tx.Commit(ctx)
}

// SetOrderStatus moves an order through the lifecycle map. Role gating
// happens at the HTTP layer; the transition check happens here under
// the row lock.
func (r *Repo) SetOrderStatus(ctx context.Context, orderID string, to OrderStatus) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer tx.Rollback(ctx)

	var o Order
	err = tx.QueryRow(ctx, `SELECT id, user_id, status, total_cents FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, NotFoundf("order %s not found", orderID)
	}
	if err != nil {
		return Order{}, err
	}
	if err = TransitionOrder(o.Status, to); err != nil {
		return Order{}, err
	}
	if err = tx.QueryRow(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 RETURNING updated_at`,
		orderID, to).Scan(&o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = to
	return o, tx.Commit(ctx)
}
