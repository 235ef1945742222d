package httpx_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nlambert/agrimarket/internal/httpx"
	"github.com/nlambert/agrimarket/internal/market"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// fakePublisher records decoded envelopes instead of hitting Kafka.
type fakePublisher struct {
	events []market.Envelope
}

func (f *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	var ev market.Envelope
	_ = json.Unmarshal(value, &ev)
	f.events = append(f.events, ev)
}

func (f *fakePublisher) byType(eventType string) []market.Envelope {
	var out []market.Envelope
	for _, ev := range f.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// newRouter mounts a handler behind the session middleware, the same
// shape the api binary uses.
func newRouter(register func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Group(func(priv chi.Router) {
			priv.Use(httpx.Authenticator([]byte(testSecret)))
			register(priv)
		})
	})
	return r
}

func token(t *testing.T, userID string, role market.Role) string {
	t.Helper()
	tok, err := httpx.SignSession([]byte(testSecret), userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}
