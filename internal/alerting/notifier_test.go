package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() Notification {
	return Notification{
		Category:    "token",
		TargetID:    "pepe",
		TargetLabel: "PEPE",
		Severity:    "major",
		Message:     "PEPE moved up 12.50% (0.10 -> 0.11)",
		Value:       decimal.RequireFromString("0.11"),
		DeltaPct:    decimal.RequireFromString("12.5"),
		At:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifySendsMessage(t *testing.T) {
	var captured struct {
		path    string
		payload map[string]string
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.payload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345", srv.URL, time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), sampleNotification())
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", captured.path)
	assert.Equal(t, "12345", captured.payload["chat_id"])
	assert.Contains(t, captured.payload["text"], "token alert: major")
	assert.Contains(t, captured.payload["text"], "PEPE moved up 12.50%")
	assert.Contains(t, captured.payload["text"], "Change: 12.50%")
}

func TestTelegramNotifyOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345", srv.URL, time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ok=false")
}

func TestTelegramNotifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345", srv.URL, time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRenderMessageOmitsZeroChange(t *testing.T) {
	note := sampleNotification()
	note.DeltaPct = decimal.Zero
	text := renderMessage(note)

	assert.False(t, strings.Contains(text, "Change:"))
	assert.Contains(t, text, "Value: 0.11")
	assert.Contains(t, text, "Time: 2025-06-01T12:00:00Z UTC")
}
