package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nlambert/agrimarket/internal/market"
	"go.uber.org/zap"
)

type WalletStore interface {
	Wallet(ctx context.Context, caller market.Caller) (market.Wallet, error)
	RequestWithdrawal(ctx context.Context, caller market.Caller, amountCents int) (market.Withdrawal, error)
	ResolveWithdrawal(ctx context.Context, withdrawalID string, to market.WithdrawalStatus) (market.Withdrawal, error)
	IssueInvoices(ctx context.Context, orderID string, dueDate time.Time) ([]market.Invoice, error)
	MarkInvoicePaid(ctx context.Context, invoiceID string) (market.Invoice, error)
	CancelInvoice(ctx context.Context, invoiceID string) error
}

type WalletHandler struct {
	Store WalletStore
	Log   *zap.Logger
}

func (h *WalletHandler) Register(r chi.Router) {
	r.With(RequireRole(market.RoleProducer)).Get("/producers/me/wallet", h.getWallet)
	r.With(RequireRole(market.RoleProducer)).Post("/producers/me/withdrawals", h.requestWithdrawal)
	r.With(RequireRole()).Patch("/admin/withdrawals/{id}", h.resolveWithdrawal)
	r.With(RequireRole()).Post("/admin/orders/{id}/invoices", h.issueInvoices)
	r.With(RequireRole()).Patch("/admin/invoices/{id}", h.updateInvoice)
}

func (h *WalletHandler) getWallet(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	wallet, err := h.Store.Wallet(ctx, caller)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"producer_id":   wallet.ProducerID,
		"balance_cents": wallet.BalanceCents,
	})
}

type withdrawalReq struct {
	AmountCents int `json:"amount_cents"`
}

type withdrawalResp struct {
	WithdrawalID string `json:"withdrawal_id"`
	ProducerID   string `json:"producer_id"`
	AmountCents  int    `json:"amount_cents"`
	Status       string `json:"status"`
}

func (h *WalletHandler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req withdrawalReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	wd, err := h.Store.RequestWithdrawal(ctx, caller, req.AmountCents)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawalResp{
		WithdrawalID: wd.ID, ProducerID: wd.ProducerID, AmountCents: wd.AmountCents, Status: string(wd.Status),
	})
}

type resolveWithdrawalReq struct {
	Status string `json:"status"`
}

func (h *WalletHandler) resolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req resolveWithdrawalReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	wd, err := h.Store.ResolveWithdrawal(ctx, chi.URLParam(r, "id"), market.WithdrawalStatus(req.Status))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalResp{
		WithdrawalID: wd.ID, ProducerID: wd.ProducerID, AmountCents: wd.AmountCents, Status: string(wd.Status),
	})
}

type issueInvoicesReq struct {
	DueDate string `json:"due_date"`
}

type invoiceResp struct {
	InvoiceID   string `json:"invoice_id"`
	OrderID     string `json:"order_id"`
	ProducerID  string `json:"producer_id"`
	AmountCents int    `json:"amount_cents"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
}

func toInvoiceResp(inv market.Invoice) invoiceResp {
	return invoiceResp{
		InvoiceID:   inv.ID,
		OrderID:     inv.OrderID,
		ProducerID:  inv.ProducerID,
		AmountCents: inv.AmountCents,
		Status:      string(inv.Status),
		DueDate:     inv.DueDate.Format("2006-01-02"),
	}
}

func (h *WalletHandler) issueInvoices(w http.ResponseWriter, r *http.Request) {
	var req issueInvoicesReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(h.Log, w, r, market.Validationf("due_date must be YYYY-MM-DD"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	invs, err := h.Store.IssueInvoices(ctx, chi.URLParam(r, "id"), due)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	out := make([]invoiceResp, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvoiceResp(inv))
	}
	writeJSON(w, http.StatusCreated, out)
}

type updateInvoiceReq struct {
	Status string `json:"status"`
}

func (h *WalletHandler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var req updateInvoiceReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	invoiceID := chi.URLParam(r, "id")
	switch market.InvoiceStatus(req.Status) {
	case market.InvoicePaid:
		inv, err := h.Store.MarkInvoicePaid(ctx, invoiceID)
		if err != nil {
			writeError(h.Log, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvoiceResp(inv))
	case market.InvoiceCancelled:
		if err := h.Store.CancelInvoice(ctx, invoiceID); err != nil {
			writeError(h.Log, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"invoice_id": invoiceID, "status": req.Status})
	default:
		writeError(h.Log, w, r, market.Validationf("invoice status can only be set to PAID or CANCELLED"))
	}
}
