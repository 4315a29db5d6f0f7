package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dn-hedge-bot/internal/config"
	"dn-hedge-bot/internal/hl/exchange"
	"dn-hedge-bot/internal/hl/rest"
	"dn-hedge-bot/internal/market"
	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testPrivKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

type fakeHL struct {
	exchangeResp string
	actions      []map[string]any
}

func (f *fakeHL) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req["type"] {
		case "meta":
			fmt.Fprint(w, `{"universe":[{"name":"ETH","szDecimals":4},{"name":"BTC","szDecimals":5}]}`)
		case "allMids":
			fmt.Fprint(w, `{"BTC":"50000","ETH":"3000"}`)
		default:
			http.Error(w, "unknown info type", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.actions = append(f.actions, payload)
		fmt.Fprint(w, f.exchangeResp)
	})
	return mux
}

func (f *fakeHL) lastOrder(t *testing.T) map[string]any {
	t.Helper()
	if len(f.actions) == 0 {
		t.Fatalf("no exchange actions captured")
	}
	action, ok := f.actions[len(f.actions)-1]["action"].(map[string]any)
	if !ok {
		t.Fatalf("action missing from payload")
	}
	orders, ok := action["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected one order, got %v", action["orders"])
	}
	order, ok := orders[0].(map[string]any)
	if !ok {
		t.Fatalf("order is not an object")
	}
	return order
}

func newTestAdapter(t *testing.T, hl *fakeHL) *Adapter {
	t.Helper()
	srv := httptest.NewServer(hl.handler())
	t.Cleanup(srv.Close)

	log := zap.NewNop()
	md := market.New(rest.New(srv.URL, 2*time.Second, log), nil, time.Minute, log)
	signer, err := exchange.NewSigner(testPrivKey, true)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	exClient, err := exchange.NewClient(srv.URL, 2*time.Second, signer, "")
	if err != nil {
		t.Fatalf("exchange client: %v", err)
	}
	cfg := config.HyperliquidConfig{Timeout: 2 * time.Second, SlippageBps: 50}
	return New(md, exClient, cfg, log)
}

func filledResp(oid int, avgPx, totalSz string) string {
	return fmt.Sprintf(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":%d,"avgPx":"%s","totalSz":"%s"}}]}}}`, oid, avgPx, totalSz)
}

func TestResolveAssetFromPerpUniverse(t *testing.T) {
	adapter := newTestAdapter(t, &fakeHL{})

	asset, err := adapter.ResolveAsset(context.Background(), venue.NewTradingPair("BTC", "USDT"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if asset.Symbol != "BTC" || asset.SizeDecimals != 5 {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	if _, err := adapter.ResolveAsset(context.Background(), venue.NewTradingPair("DOGE", "USDT")); err == nil {
		t.Fatalf("expected error for unlisted coin")
	}
}

func TestPriceUsesMid(t *testing.T) {
	adapter := newTestAdapter(t, &fakeHL{})
	asset := &venue.ExchangeAsset{Venue: venue.Hyperliquid, Symbol: "BTC", SizeDecimals: 5}

	price, err := adapter.Price(context.Background(), asset)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("50000")) {
		t.Fatalf("price = %s", price)
	}
}

func TestOpenLongEmulatesMarketWithIocLimit(t *testing.T) {
	hl := &fakeHL{exchangeResp: filledResp(777, "50240.0", "0.02")}
	adapter := newTestAdapter(t, hl)
	pair := venue.NewTradingPair("BTC", "USDT")
	asset, err := adapter.ResolveAsset(context.Background(), pair)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tag := venue.Tag{Cycle: 1, Leg: venue.LegLong}
	order, handle, err := adapter.OpenLong(context.Background(), asset,
		decimal.RequireFromString("50000"), decimal.RequireFromString("1000"), tag)
	if err != nil {
		t.Fatalf("open long: %v", err)
	}
	wire := hl.lastOrder(t)
	// BTC is second in the universe, so its asset id is 1.
	if wire["a"] != float64(1) {
		t.Fatalf("asset id = %v", wire["a"])
	}
	if wire["b"] != true {
		t.Fatalf("long open must buy")
	}
	// 50 bps through the mid: 50000 * 1.005.
	if wire["p"] != "50250" {
		t.Fatalf("limit price = %v, want 50250", wire["p"])
	}
	if wire["s"] != "0.02" {
		t.Fatalf("size = %v, want 0.02", wire["s"])
	}
	if wire["r"] != false {
		t.Fatalf("entry must not be reduce-only")
	}
	orderType, _ := wire["t"].(map[string]any)
	limit, _ := orderType["limit"].(map[string]any)
	if limit["tif"] != "Ioc" {
		t.Fatalf("tif = %v, want Ioc", limit["tif"])
	}
	if wire["c"] != "0x00000000000000000000000000000004" {
		t.Fatalf("cloid = %v", wire["c"])
	}
	if !order.Price.Equal(decimal.RequireFromString("50240.0")) {
		t.Fatalf("fill price = %s", order.Price)
	}
	if handle.OrderID != "777" {
		t.Fatalf("handle oid = %s", handle.OrderID)
	}
}

func TestClosePositionReduceOnlyOppositeDirection(t *testing.T) {
	hl := &fakeHL{exchangeResp: filledResp(778, "49760.0", "0.02")}
	adapter := newTestAdapter(t, hl)
	pair := venue.NewTradingPair("BTC", "USDT")
	asset, err := adapter.ResolveAsset(context.Background(), pair)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	handle := &venue.PositionHandle{
		Venue:      venue.Hyperliquid,
		Asset:      asset,
		Side:       venue.SideLong,
		Size:       decimal.RequireFromString("0.02"),
		EntryPrice: decimal.RequireFromString("50000"),
		Tag:        venue.Tag{Cycle: 1, Leg: venue.LegLong},
		OrderID:    "777",
	}
	exit, err := adapter.ClosePosition(context.Background(), handle, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	wire := hl.lastOrder(t)
	if wire["b"] != false {
		t.Fatalf("closing a long must sell")
	}
	if wire["r"] != true {
		t.Fatalf("close must be reduce-only")
	}
	// Sells cross downward: 50000 * 0.995.
	if wire["p"] != "49750" {
		t.Fatalf("limit price = %v, want 49750", wire["p"])
	}
	if wire["c"] != "0x00000000000000000000000000000005" {
		t.Fatalf("close cloid = %v", wire["c"])
	}
	if exit.Side != venue.SideShort || exit.Cycle != 1 || exit.Leg != venue.LegLong {
		t.Fatalf("exit mis-tagged: %+v", exit)
	}
}

func TestOpenFailsWhenIocDoesNotFill(t *testing.T) {
	hl := &fakeHL{exchangeResp: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":779}}]}}}`}
	adapter := newTestAdapter(t, hl)
	pair := venue.NewTradingPair("BTC", "USDT")
	asset, err := adapter.ResolveAsset(context.Background(), pair)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, _, err = adapter.OpenShort(context.Background(), asset,
		decimal.RequireFromString("50000"), decimal.RequireFromString("1000"), venue.Tag{Cycle: 2, Leg: venue.LegShort})
	if err == nil {
		t.Fatalf("expected error for unfilled ioc order")
	}
}

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		px         float64
		szDecimals int32
		want       float64
	}{
		{50250, 5, 50250},
		{50012.3456, 5, 50012},
		{1234.5678, 3, 1234.6},
		{0.0012345678, 0, 0.001235},
	}
	for _, tc := range cases {
		if got := normalizePrice(tc.px, tc.szDecimals); got != tc.want {
			t.Fatalf("normalizePrice(%v, %d) = %v, want %v", tc.px, tc.szDecimals, got, tc.want)
		}
	}
}

func TestCloidFromTag(t *testing.T) {
	open := cloidFromTag(venue.Tag{Cycle: 3, Leg: venue.LegShort}, false)
	if open != "0x0000000000000000000000000000000e" {
		t.Fatalf("open cloid = %s", open)
	}
	if len(open) != 34 {
		t.Fatalf("cloid must be 128-bit hex, got len %d", len(open))
	}
	close := cloidFromTag(venue.Tag{Cycle: 3, Leg: venue.LegShort}, true)
	if close == open {
		t.Fatalf("close cloid must differ from open cloid")
	}
}
