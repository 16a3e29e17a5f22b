package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/config"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Ledger: config.LedgerConfig{Path: filepath.Join(t.TempDir(), "ledger.db"), OversellPolicy: "defer"},
		Remote: config.RemoteConfig{Timeout: time.Second},
		Sync: config.SyncConfig{
			BaseDelay:      time.Millisecond,
			MaxDelay:       10 * time.Millisecond,
			MaxAttempts:    3,
			SafetyInterval: time.Hour,
		},
		Loyalty: config.LoyaltyConfig{PointsPerUnit: "1"},
		Log:     config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", "k", "v")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "test message", m["msg"])
	assert.Equal(t, "v", m["k"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "WARN", Format: "text"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel(" Error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_MemoryRemote(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NotNil(t, a.Memory)
	assert.True(t, a.Monitor.Online(), "no prober means online")

	_, err = a.Memory.Put(model.Ref(model.CollectionStock, "sku-1"),
		model.StockRecord{ItemID: "sku-1", Quantity: 3, TrackStock: true})
	require.NoError(t, err)
	_, err = a.Service.Pull(ctx, model.Ref(model.CollectionStock, "sku-1"))
	require.NoError(t, err)

	_, err = a.Service.SubmitStockDelta(ctx, "sku-1", -1)
	require.NoError(t, err)
	require.NoError(t, a.Service.Sync(ctx))

	doc, ok := a.Memory.Document(model.Ref(model.CollectionStock, "sku-1"))
	require.True(t, ok)
	var rec model.StockRecord
	require.NoError(t, json.Unmarshal(doc.Data, &rec))
	assert.Equal(t, int64(2), rec.Quantity)
}

func TestNew_HTTPRemoteStartsOfflineWithProber(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.BaseURL = "http://127.0.0.1:1/v1"
	cfg.Connectivity.ProbeURL = "http://127.0.0.1:1/healthz"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Nil(t, a.Memory)
	assert.False(t, a.Monitor.Online())
}

func TestNew_BadPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.OversellPolicy = "sometimes"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Listen = "127.0.0.1:0"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Scheduler.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never became ready")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenFailureStartsNothing(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { busy.Close() })

	cfg := testConfig(t)
	cfg.Remote.Listen = busy.Addr().String()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")

	select {
	case <-a.Scheduler.Ready():
		t.Fatal("scheduler started although Run failed")
	default:
	}
}
