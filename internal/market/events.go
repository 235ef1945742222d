package market

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated   = "BookingCreated"
	EventBookingConfirmed = "BookingConfirmed"
	EventBookingCancelled = "BookingCancelled"
	EventBookingExpired   = "BookingExpired"
	EventStockLow         = "StockLow"
	EventUserInvited      = "UserInvited"
	EventPasswordReset    = "PasswordResetRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload in the v1 event envelope. Marshalling the
// payload types below cannot fail, hence the panic on error.
func NewEnvelope(eventType, producer, correlationID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}
}

type BookingEventPayload struct {
	BookingID string     `json:"booking_id"`
	SlotID    string     `json:"slot_id"`
	OrderID   string     `json:"order_id"`
	ProductID string     `json:"product_id,omitempty"`
	Qty       int        `json:"qty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type StockLowPayload struct {
	ProductID string `json:"product_id"`
	Remaining int    `json:"remaining"`
	Threshold int    `json:"threshold"`
}

type UserInvitedPayload struct {
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	TempPassword string `json:"temp_password"`
}

type PasswordResetPayload struct {
	Email      string `json:"email"`
	ResetToken string `json:"reset_token"`
}
