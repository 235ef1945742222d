package market

const (
	TopicBookings      = "market.bookings"
	TopicNotifications = "market.notifications"
)

// Partition key = correlation id (order or user), so all events for one
// aggregate keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
