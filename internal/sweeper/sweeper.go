package sweeper

import (
	"context"
	"time"

	kafkax "github.com/nlambert/agrimarket/internal/kafka"
	"github.com/nlambert/agrimarket/internal/market"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store is the booking repository slice the sweeper drives.
type Store interface {
	ExpireBatch(ctx context.Context, now time.Time, limit int) ([]market.ExpiredRelease, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Sweeper periodically releases TEMPORARY bookings whose expiry has
// passed, so stale holds never lock capacity or stock for good.
type Sweeper struct {
	Store    Store
	Events   Publisher
	Log      *zap.Logger
	Interval time.Duration
	Batch    int
	Service  string
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	s.Log.Info("booking sweeper started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("booking sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				s.Log.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.Log.Info("released expired bookings", zap.Int("count", n))
			}
		}
	}
}

// Sweep expires everything due at now, batch by batch, and publishes a
// BookingExpired event per released hold.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}

	total := 0
	for {
		released, err := s.Store.ExpireBatch(ctx, now, batch)
		if err != nil {
			return total, err
		}
		for _, rel := range released {
			s.publishExpired(rel)
		}
		total += len(released)
		if len(released) < batch {
			return total, nil
		}
	}
}

func (s *Sweeper) publishExpired(rel market.ExpiredRelease) {
	if s.Events == nil {
		return
	}
	b := rel.Booking
	ev := market.NewEnvelope(market.EventBookingExpired, s.Service, b.OrderID, market.BookingEventPayload{
		BookingID: b.ID,
		SlotID:    b.SlotID,
		OrderID:   b.OrderID,
		ProductID: rel.ProductID,
		Qty:       b.Qty,
	})
	s.Events.Publish(market.PartitionKey(b.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(market.EventBookingExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
