package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/nlambert/agrimarket/internal/kafka"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/nlambert/agrimarket/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AccountSource resolves recipients the event payloads do not carry.
type AccountSource interface {
	ProducerEmailForProduct(ctx context.Context, productID string) (string, error)
}

// Service consumes the notification topic and turns events into mail.
// Everything here is best-effort: a failed mail is logged, the offset
// is committed anyway, and nothing upstream ever waits on it.
type Service struct {
	Mailer      Mailer
	Accounts    AccountSource
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandleNotification is installed as the consumer handler.
func (s *Service) HandleNotification(ctx context.Context, m kafkago.Message) error {
	var env market.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("dropping undecodable event", zap.Error(err))
		return nil
	}

	// dedup on redelivery
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		if first, err := redisx.ClaimOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err == nil && !first {
			return nil
		}
	}

	var err error
	switch env.EventType {
	case market.EventUserInvited:
		err = s.handleInvited(ctx, env.Payload)
	case market.EventPasswordReset:
		err = s.handlePasswordReset(ctx, env.Payload)
	case market.EventStockLow:
		err = s.handleStockLow(ctx, env.Payload)
	default:
		return nil
	}
	if err != nil {
		s.Log.Warn("notification delivery failed",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
			zap.Error(err))
	}
	return nil
}

func (s *Service) handleInvited(ctx context.Context, payload json.RawMessage) error {
	p, err := kafkax.UnwrapPayload[market.UserInvitedPayload](payload)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		"Welcome to Agrimarket!\n\nAn account was created for you as %s.\nTemporary password: %s\n\nPlease sign in and change it.",
		p.Role, p.TempPassword)
	return s.Mailer.Send(ctx, p.Email, "You have been invited to Agrimarket", body)
}

func (s *Service) handlePasswordReset(ctx context.Context, payload json.RawMessage) error {
	p, err := kafkax.UnwrapPayload[market.PasswordResetPayload](payload)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\nReset token (valid 30 minutes):\n%s\n\nIgnore this mail if you did not ask for it.",
		p.ResetToken)
	return s.Mailer.Send(ctx, p.Email, "Password reset", body)
}

func (s *Service) handleStockLow(ctx context.Context, payload json.RawMessage) error {
	p, err := kafkax.UnwrapPayload[market.StockLowPayload](payload)
	if err != nil {
		return err
	}
	to, err := s.Accounts.ProducerEmailForProduct(ctx, p.ProductID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		"Stock for product %s is down to %d units (threshold %d).\nConsider restocking or closing delivery slots.",
		p.ProductID, p.Remaining, p.Threshold)
	return s.Mailer.Send(ctx, to, "Low stock warning", body)
}
