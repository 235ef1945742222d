package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nlambert/agrimarket/internal/market"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AccountStore interface {
	CreateInvitedUser(ctx context.Context, email string, role market.Role, passwordHash, producerName string) (market.User, error)
	GetUserByEmail(ctx context.Context, email string) (market.User, error)
}

type AccountsHandler struct {
	Store         AccountStore
	Notify        EventPublisher // market.notifications
	SessionSecret []byte
	Log           *zap.Logger
	Service       string
}

// Register wires the authenticated surface; RegisterPublic the rest.
func (h *AccountsHandler) Register(r chi.Router) {
	r.With(RequireRole()).Post("/admin/invitations", h.invite)
}

func (h *AccountsHandler) RegisterPublic(r chi.Router) {
	r.Post("/password-resets", h.requestPasswordReset)
}

type inviteReq struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	ProducerName string `json:"producer_name"`
}

func (h *AccountsHandler) invite(w http.ResponseWriter, r *http.Request) {
	var req inviteReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	temp := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(temp), bcrypt.DefaultCost)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	u, err := h.Store.CreateInvitedUser(ctx, req.Email, market.Role(req.Role), string(hash), req.ProducerName)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	if h.Notify != nil {
		ev := market.NewEnvelope(market.EventUserInvited, h.Service, u.ID, market.UserInvitedPayload{
			Email:        u.Email,
			Role:         u.Role,
			TempPassword: temp,
		})
		publishEnvelope(h.Notify, market.PartitionKey(u.ID), ev)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"user_id": u.ID,
		"email":   u.Email,
		"role":    string(u.Role),
	})
}

type passwordResetReq struct {
	Email string `json:"email"`
}

// requestPasswordReset always answers 202: whether the address exists
// is not disclosed. When it does, a short-lived reset token goes out by
// e-mail through the notification worker.
func (h *AccountsHandler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	if req.Email == "" {
		writeError(h.Log, w, r, market.Validationf("email is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := h.Store.GetUserByEmail(ctx, req.Email)
	if err == nil && h.Notify != nil {
		token, terr := SignSession(h.SessionSecret, u.ID, u.Role, 30*time.Minute)
		if terr != nil {
			writeError(h.Log, w, r, terr)
			return
		}
		ev := market.NewEnvelope(market.EventPasswordReset, h.Service, u.ID, market.PasswordResetPayload{
			Email:      u.Email,
			ResetToken: token,
		})
		publishEnvelope(h.Notify, market.PartitionKey(u.ID), ev)
	} else if err != nil && market.KindOf(err) != market.KindNotFound {
		writeError(h.Log, w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
