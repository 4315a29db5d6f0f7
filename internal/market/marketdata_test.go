package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dn-hedge-bot/internal/hl/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestParsePerpMetaPositionalIndexes(t *testing.T) {
	payload := map[string]any{
		"universe": []any{
			map[string]any{"name": "BTC", "szDecimals": float64(5)},
			map[string]any{"name": "ETH", "szDecimals": float64(4)},
		},
	}
	assets, err := parsePerpMeta(payload)
	if err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	btc, ok := assets["BTC"]
	if !ok || btc.Index != 0 || btc.SzDecimals != 5 {
		t.Fatalf("unexpected BTC asset: %+v", btc)
	}
	eth, ok := assets["ETH"]
	if !ok || eth.Index != 1 || eth.SzDecimals != 4 {
		t.Fatalf("unexpected ETH asset: %+v", eth)
	}
}

func TestParsePerpMetaEmptyUniverse(t *testing.T) {
	if _, err := parsePerpMeta(map[string]any{"universe": []any{}}); err == nil {
		t.Fatalf("expected error for empty universe")
	}
}

func TestMidsFromWebsocketPayload(t *testing.T) {
	raw := `{"channel":"allMids","data":{"mids":{"BTC":"50000.5","ETH":"3000"}}}`
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mids := midsFromPayload(payload)
	if !mids["BTC"].Equal(decimal.RequireFromString("50000.5")) {
		t.Fatalf("BTC mid = %s", mids["BTC"])
	}
	if !mids["ETH"].Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("ETH mid = %s", mids["ETH"])
	}
}

func TestMidsFromFlatInfoPayload(t *testing.T) {
	payload := map[string]any{"BTC": "50000", "ETH": "3000"}
	mids := midsFromPayload(payload)
	if len(mids) != 2 {
		t.Fatalf("expected 2 mids, got %d", len(mids))
	}
}

func TestMidPrefersFreshWebsocketCache(t *testing.T) {
	md := New(nil, nil, time.Minute, zap.NewNop())
	md.handleMessage(json.RawMessage(`{"channel":"allMids","data":{"mids":{"BTC":"50000"}}}`))

	mid, err := md.Mid(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if !mid.Equal(decimal.RequireFromString("50000")) {
		t.Fatalf("mid = %s", mid)
	}
}

func TestMidFallsBackToRestWhenStale(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"BTC":"50123.4"}`)
	}))
	defer srv.Close()

	md := New(rest.New(srv.URL, 2*time.Second, zap.NewNop()), nil, time.Minute, zap.NewNop())
	mid, err := md.Mid(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one rest call, got %d", calls)
	}
	if !mid.Equal(decimal.RequireFromString("50123.4")) {
		t.Fatalf("mid = %s", mid)
	}
}

func TestMidUnknownCoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ETH":"3000"}`)
	}))
	defer srv.Close()

	md := New(rest.New(srv.URL, 2*time.Second, zap.NewNop()), nil, time.Minute, zap.NewNop())
	if _, err := md.Mid(context.Background(), "BTC"); err == nil {
		t.Fatalf("expected error for unknown coin")
	}
}
