package exec

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type fakeVenue struct {
	name       venue.Name
	priceCalls int
	priceFails int
	openCalls  int
	closeCalls int
	closeFails int
}

func (f *fakeVenue) Name() venue.Name { return f.name }

func (f *fakeVenue) ResolveAsset(ctx context.Context, pair venue.TradingPair) (*venue.ExchangeAsset, error) {
	_ = ctx
	return &venue.ExchangeAsset{Pair: pair, Venue: f.name, Symbol: pair.BinanceSymbol(), SizeDecimals: 3}, nil
}

func (f *fakeVenue) Price(ctx context.Context, asset *venue.ExchangeAsset) (decimal.Decimal, error) {
	_ = ctx
	_ = asset
	f.priceCalls++
	if f.priceCalls <= f.priceFails {
		return decimal.Zero, venue.Errf(f.name, "price", "transient")
	}
	return decimal.NewFromInt(50000), nil
}

func (f *fakeVenue) OpenLong(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	_ = ctx
	f.openCalls++
	order := &venue.Order{Asset: asset, Side: venue.SideLong, Price: price, Size: decimal.NewFromInt(1), Cycle: tag.Cycle, Leg: tag.Leg}
	handle := &venue.PositionHandle{Venue: f.name, Asset: asset, Side: venue.SideLong, Size: order.Size, EntryPrice: price, Tag: tag}
	_ = notional
	return order, handle, nil
}

func (f *fakeVenue) OpenShort(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	_ = ctx
	_ = notional
	f.openCalls++
	order := &venue.Order{Asset: asset, Side: venue.SideShort, Price: price, Size: decimal.NewFromInt(1), Cycle: tag.Cycle, Leg: tag.Leg}
	handle := &venue.PositionHandle{Venue: f.name, Asset: asset, Side: venue.SideShort, Size: order.Size, EntryPrice: price, Tag: tag}
	return order, handle, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, handle *venue.PositionHandle, price decimal.Decimal) (*venue.Order, error) {
	_ = ctx
	f.closeCalls++
	if f.closeCalls <= f.closeFails {
		return nil, venue.Errf(f.name, "close", "transient")
	}
	return &venue.Order{Asset: handle.Asset, Side: handle.Side.Opposite(), Price: price, Size: handle.Size, Cycle: handle.Tag.Cycle, Leg: handle.Tag.Leg}, nil
}

func TestGatewayRetriesPrice(t *testing.T) {
	inner := &fakeVenue{name: venue.Binance, priceFails: 2}
	gw := New(inner, newMemoryStore(), zap.NewNop())

	price, err := gw.Price(context.Background(), &venue.ExchangeAsset{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected price %s", price)
	}
	if inner.priceCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.priceCalls)
	}
}

func TestGatewayGivesUpAfterAttempts(t *testing.T) {
	inner := &fakeVenue{name: venue.Binance, priceFails: 10}
	gw := New(inner, newMemoryStore(), zap.NewNop())

	if _, err := gw.Price(context.Background(), &venue.ExchangeAsset{}); err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if inner.priceCalls != retryAttempts {
		t.Fatalf("expected %d attempts, got %d", retryAttempts, inner.priceCalls)
	}
}

func TestGatewayRetriesClose(t *testing.T) {
	inner := &fakeVenue{name: venue.Hyperliquid, closeFails: 1}
	gw := New(inner, newMemoryStore(), zap.NewNop())

	handle := &venue.PositionHandle{Venue: venue.Hyperliquid, Asset: &venue.ExchangeAsset{}, Side: venue.SideLong, Size: decimal.NewFromInt(1)}
	order, err := gw.ClosePosition(context.Background(), handle, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Side != venue.SideShort {
		t.Fatalf("expected opposite side, got %s", order.Side)
	}
	if inner.closeCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", inner.closeCalls)
	}
}

func TestGatewayRefusesDuplicateOpen(t *testing.T) {
	inner := &fakeVenue{name: venue.Binance}
	store := newMemoryStore()
	gw := New(inner, store, zap.NewNop())

	ctx := context.Background()
	asset := &venue.ExchangeAsset{Venue: venue.Binance}
	tag := venue.Tag{Cycle: 1, Leg: venue.LegLong}

	if _, _, err := gw.OpenLong(ctx, asset, decimal.NewFromInt(100), decimal.NewFromInt(1000), tag); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, _, err := gw.OpenLong(ctx, asset, decimal.NewFromInt(100), decimal.NewFromInt(1000), tag)
	if err == nil {
		t.Fatalf("expected duplicate open to be refused")
	}
	var ve *venue.VenueError
	if !errors.As(err, &ve) || !strings.Contains(ve.Error(), "already placed") {
		t.Fatalf("unexpected error %v", err)
	}
	if inner.openCalls != 1 {
		t.Fatalf("expected 1 placement, got %d", inner.openCalls)
	}

	// A different leg of the same cycle is a separate journal entry.
	if _, _, err := gw.OpenShort(ctx, asset, decimal.NewFromInt(100), decimal.NewFromInt(1000), venue.Tag{Cycle: 1, Leg: venue.LegShort}); err != nil {
		t.Fatalf("short open: %v", err)
	}
}

func TestGatewayOpenWithoutStore(t *testing.T) {
	inner := &fakeVenue{name: venue.Binance}
	gw := New(inner, nil, zap.NewNop())
	tag := venue.Tag{Cycle: 2, Leg: venue.LegLong}
	if _, _, err := gw.OpenLong(context.Background(), &venue.ExchangeAsset{}, decimal.NewFromInt(1), decimal.NewFromInt(1), tag); err != nil {
		t.Fatalf("open without store: %v", err)
	}
}
