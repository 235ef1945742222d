package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 100, cfg.SweepBatch)
	require.EqualValues(t, 5<<20, cfg.MaxUploadSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("SWEEP_BATCH", "250")

	cfg := Load()
	require.Equal(t, ":9999", cfg.HTTPAddr)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, 250, cfg.SweepBatch)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("SWEEP_BATCH", "lots")

	cfg := Load()
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 100, cfg.SweepBatch)
}
