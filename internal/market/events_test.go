package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	ev := NewEnvelope(EventStockLow, "market-api", "p1", StockLowPayload{
		ProductID: "p1", Remaining: 2, Threshold: 5,
	})

	require.NotEmpty(t, ev.EventID)
	require.Equal(t, EventStockLow, ev.EventType)
	require.Equal(t, 1, ev.EventVersion)
	require.Equal(t, "market-api", ev.Producer)
	require.Equal(t, "p1", ev.CorrelationID)
	require.False(t, ev.OccurredAt.IsZero())

	var p StockLowPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	require.Equal(t, 2, p.Remaining)
	require.Equal(t, 5, p.Threshold)
}
