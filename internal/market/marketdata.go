package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dn-hedge-bot/internal/hl/rest"
	"dn-hedge-bot/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PerpAsset is one entry of the perp universe. Index is the asset id used on
// the exchange endpoint, SzDecimals the venue's order size precision.
type PerpAsset struct {
	Coin       string
	Index      int
	SzDecimals int32
}

// MarketData caches Hyperliquid mid prices fed by the allMids websocket
// stream, with the /info endpoint as fallback when the stream is stale or not
// yet warm. Perp metadata is fetched once and kept for asset lookups.
type MarketData struct {
	rest       *rest.Client
	ws         *ws.Client
	staleAfter time.Duration
	log        *zap.Logger

	mu         sync.RWMutex
	mids       map[string]decimal.Decimal
	midsAt     time.Time
	perpAssets map[string]PerpAsset
}

func New(restClient *rest.Client, wsClient *ws.Client, staleAfter time.Duration, log *zap.Logger) *MarketData {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Second
	}
	return &MarketData{
		rest:       restClient,
		ws:         wsClient,
		staleAfter: staleAfter,
		log:        log,
		mids:       make(map[string]decimal.Decimal),
		perpAssets: make(map[string]PerpAsset),
	}
}

// Start connects the websocket and subscribes to allMids. The read loop
// reconnects on its own; Start only fails when the initial dial does.
func (m *MarketData) Start(ctx context.Context) error {
	if m.ws == nil {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := m.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

// RefreshMeta loads the perp universe. Asset ids are positional within the
// universe array.
func (m *MarketData) RefreshMeta(ctx context.Context) error {
	if m.rest == nil {
		return errors.New("rest client is required for meta")
	}
	resp, err := m.rest.Info(ctx, rest.InfoRequest{Type: "meta"})
	if err != nil {
		return err
	}
	assets, err := parsePerpMeta(resp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perpAssets = assets
	m.mu.Unlock()
	m.log.Debug("perp meta refreshed", zap.Int("assets", len(assets)))
	return nil
}

func (m *MarketData) Asset(coin string) (PerpAsset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	asset, ok := m.perpAssets[coin]
	return asset, ok
}

// Mid returns the current mid price for a coin, preferring the websocket
// cache and falling back to a REST allMids fetch when the cache is stale.
func (m *MarketData) Mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	m.mu.RLock()
	mid, ok := m.mids[coin]
	fresh := !m.midsAt.IsZero() && time.Since(m.midsAt) < m.staleAfter
	m.mu.RUnlock()
	if ok && fresh {
		return mid, nil
	}
	if m.rest == nil {
		if ok {
			return mid, nil
		}
		return decimal.Zero, fmt.Errorf("no mid price for %s", coin)
	}
	resp, err := m.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		if ok {
			m.log.Warn("allMids fetch failed, using cached mid", zap.String("coin", coin), zap.Error(err))
			return mid, nil
		}
		return decimal.Zero, err
	}
	m.storeMids(midsFromPayload(resp))
	m.mu.RLock()
	mid, ok = m.mids[coin]
	m.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid price for %s", coin)
	}
	return mid, nil
}

func (m *MarketData) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	if mids := midsFromPayload(payload); len(mids) > 0 {
		m.storeMids(mids)
	}
}

func (m *MarketData) storeMids(mids map[string]decimal.Decimal) {
	if len(mids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for coin, mid := range mids {
		m.mids[coin] = mid
	}
	m.midsAt = time.Now()
}
