package httpx_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/nlambert/agrimarket/internal/httpx"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWalletStore struct {
	producerID  string
	owner       string
	balance     int
	withdrawals map[string]*market.Withdrawal
	invoices    map[string]*market.Invoice
	orderSplit  map[string]map[string]int // order id -> producer id -> amount
	nextID      int
}

func newFakeWalletStore(producerID, owner string, balance int) *fakeWalletStore {
	return &fakeWalletStore{
		producerID:  producerID,
		owner:       owner,
		balance:     balance,
		withdrawals: map[string]*market.Withdrawal{},
		invoices:    map[string]*market.Invoice{},
		orderSplit:  map[string]map[string]int{},
	}
}

func (f *fakeWalletStore) Wallet(_ context.Context, caller market.Caller) (market.Wallet, error) {
	if caller.UserID != f.owner && !caller.IsAdmin() {
		return market.Wallet{}, market.NotFoundf("producer not found")
	}
	return market.Wallet{ProducerID: f.producerID, BalanceCents: f.balance}, nil
}

func (f *fakeWalletStore) RequestWithdrawal(_ context.Context, caller market.Caller, amountCents int) (market.Withdrawal, error) {
	if caller.UserID != f.owner {
		return market.Withdrawal{}, market.NotFoundf("producer not found")
	}
	if err := market.CheckWithdrawal(f.balance, amountCents); err != nil {
		return market.Withdrawal{}, err
	}
	f.balance -= amountCents
	f.nextID++
	wd := &market.Withdrawal{
		ID:          fmt.Sprintf("wd-%d", f.nextID),
		ProducerID:  f.producerID,
		AmountCents: amountCents,
		Status:      market.WithdrawalRequested,
	}
	f.withdrawals[wd.ID] = wd
	return *wd, nil
}

func (f *fakeWalletStore) ResolveWithdrawal(_ context.Context, withdrawalID string, to market.WithdrawalStatus) (market.Withdrawal, error) {
	wd, ok := f.withdrawals[withdrawalID]
	if !ok {
		return market.Withdrawal{}, market.NotFoundf("withdrawal not found")
	}
	if wd.Status != market.WithdrawalRequested {
		return market.Withdrawal{}, market.Conflictf("withdrawal already %s", wd.Status)
	}
	switch to {
	case market.WithdrawalPaid, market.WithdrawalRejected:
	default:
		return market.Withdrawal{}, market.Validationf("withdrawal can only move to PAID or REJECTED")
	}
	if to == market.WithdrawalRejected {
		f.balance += wd.AmountCents
	}
	wd.Status = to
	return *wd, nil
}

func (f *fakeWalletStore) IssueInvoices(_ context.Context, orderID string, dueDate time.Time) ([]market.Invoice, error) {
	split, ok := f.orderSplit[orderID]
	if !ok {
		return nil, market.NotFoundf("order not found")
	}
	var out []market.Invoice
	for producerID, amount := range split {
		f.nextID++
		inv := &market.Invoice{
			ID:          fmt.Sprintf("inv-%d", f.nextID),
			OrderID:     orderID,
			ProducerID:  producerID,
			AmountCents: amount,
			Status:      market.InvoicePending,
			DueDate:     dueDate,
		}
		f.invoices[inv.ID] = inv
		out = append(out, *inv)
	}
	return out, nil
}

func (f *fakeWalletStore) MarkInvoicePaid(_ context.Context, invoiceID string) (market.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return market.Invoice{}, market.NotFoundf("invoice not found")
	}
	if inv.Status != market.InvoicePending {
		return market.Invoice{}, market.Conflictf("invoice already %s", inv.Status)
	}
	inv.Status = market.InvoicePaid
	return *inv, nil
}

func (f *fakeWalletStore) CancelInvoice(_ context.Context, invoiceID string) error {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return market.NotFoundf("invoice not found")
	}
	if inv.Status != market.InvoicePending {
		return market.Conflictf("invoice already %s", inv.Status)
	}
	inv.Status = market.InvoiceCancelled
	return nil
}

func newWalletRouter(store *fakeWalletStore) http.Handler {
	h := &httpx.WalletHandler{Store: store, Log: zap.NewNop()}
	return newRouter(h.Register)
}

func TestWithdrawals(t *testing.T) {
	producer := token(t, "prod-1", market.RoleProducer)
	admin := token(t, "admin-1", market.RoleAdmin)

	t.Run("request within balance", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 5000)
		r := newWalletRouter(store)

		rec := do(t, r, http.MethodPost, "/api/producers/me/withdrawals", producer,
			map[string]any{"amount_cents": 3000})
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decodeBody[map[string]any](t, rec)
		require.Equal(t, string(market.WithdrawalRequested), resp["status"])
	})

	t.Run("request above balance is a conflict", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 5000)
		r := newWalletRouter(store)

		rec := do(t, r, http.MethodPost, "/api/producers/me/withdrawals", producer,
			map[string]any{"amount_cents": 5001})
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, 5000, store.balance)
	})

	t.Run("clients cannot withdraw", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 5000)
		r := newWalletRouter(store)

		rec := do(t, r, http.MethodPost, "/api/producers/me/withdrawals", token(t, "client-1", market.RoleClient),
			map[string]any{"amount_cents": 100})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejection restores the balance", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 5000)
		r := newWalletRouter(store)

		wd, err := store.RequestWithdrawal(context.Background(), market.Caller{UserID: "prod-1", Role: market.RoleProducer}, 2000)
		require.NoError(t, err)
		require.Equal(t, 3000, store.balance)

		rec := do(t, r, http.MethodPatch, "/api/admin/withdrawals/"+wd.ID, admin,
			map[string]any{"status": "REJECTED"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 5000, store.balance)
	})

	t.Run("resolving twice is a conflict", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 5000)
		r := newWalletRouter(store)

		wd, err := store.RequestWithdrawal(context.Background(), market.Caller{UserID: "prod-1", Role: market.RoleProducer}, 2000)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, do(t, r, http.MethodPatch, "/api/admin/withdrawals/"+wd.ID, admin, map[string]any{"status": "PAID"}).Code)
		require.Equal(t, http.StatusConflict, do(t, r, http.MethodPatch, "/api/admin/withdrawals/"+wd.ID, admin, map[string]any{"status": "REJECTED"}).Code)
	})
}

func TestInvoices(t *testing.T) {
	admin := token(t, "admin-1", market.RoleAdmin)

	t.Run("issue splits per producer", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 0)
		store.orderSplit["o1"] = map[string]int{"pr1": 700, "pr2": 300}
		r := newWalletRouter(store)

		rec := do(t, r, http.MethodPost, "/api/admin/orders/o1/invoices", admin,
			map[string]any{"due_date": "2026-10-01"})
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decodeBody[[]map[string]any](t, rec)
		require.Len(t, resp, 2)
		total := 0
		for _, inv := range resp {
			require.Equal(t, string(market.InvoicePending), inv["status"])
			require.Equal(t, "2026-10-01", inv["due_date"])
			total += int(inv["amount_cents"].(float64))
		}
		require.Equal(t, 1000, total)
	})

	t.Run("mark paid then cancel is a conflict", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 0)
		store.orderSplit["o1"] = map[string]int{"pr1": 700}
		r := newWalletRouter(store)

		invs, err := store.IssueInvoices(context.Background(), "o1", time.Now())
		require.NoError(t, err)

		id := invs[0].ID
		require.Equal(t, http.StatusOK, do(t, r, http.MethodPatch, "/api/admin/invoices/"+id, admin, map[string]any{"status": "PAID"}).Code)
		require.Equal(t, http.StatusConflict, do(t, r, http.MethodPatch, "/api/admin/invoices/"+id, admin, map[string]any{"status": "CANCELLED"}).Code)
	})

	t.Run("only PAID and CANCELLED are accepted", func(t *testing.T) {
		store := newFakeWalletStore("pr1", "prod-1", 0)
		r := newWalletRouter(store)

		rec := do(t, r, http.MethodPatch, "/api/admin/invoices/x", admin, map[string]any{"status": "OVERDUE"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetWallet(t *testing.T) {
	store := newFakeWalletStore("pr1", "prod-1", 4200)
	r := newWalletRouter(store)

	rec := do(t, r, http.MethodGet, "/api/producers/me/wallet", token(t, "prod-1", market.RoleProducer), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]any](t, rec)
	require.EqualValues(t, 4200, resp["balance_cents"])
	require.Equal(t, "pr1", resp["producer_id"])
}
