package redisx

import "time"

const (
	// Idempotent booking creation: idem:booking:{idempotency_key} -> booking_id
	KeyIdemBooking = "idem:booking:%s"

	// Cache of a slot's remaining capacity: slot_left:{slot_id} -> int
	KeySlotLeft = "slot_left:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLSlotCache   = time.Minute
	TTLDedup       = 48 * time.Hour
)
