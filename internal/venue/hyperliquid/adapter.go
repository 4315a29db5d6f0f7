package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"dn-hedge-bot/internal/config"
	"dn-hedge-bot/internal/hl/exchange"
	"dn-hedge-bot/internal/market"
	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter trades Hyperliquid perps. The venue has no native market order
// type, so orders are emulated as IoC limits priced a slippage margin
// through the mid: an aggressive cross that either fills immediately or
// expires.
type Adapter struct {
	market      *market.MarketData
	exchange    *exchange.Client
	slippageBps decimal.Decimal
	timeout     time.Duration
	log         *zap.Logger
}

func New(marketData *market.MarketData, exchangeClient *exchange.Client, cfg config.HyperliquidConfig, log *zap.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		market:      marketData,
		exchange:    exchangeClient,
		slippageBps: decimal.NewFromFloat(cfg.SlippageBps),
		timeout:     timeout,
		log:         log,
	}
}

func (a *Adapter) Name() venue.Name { return venue.Hyperliquid }

func (a *Adapter) ResolveAsset(ctx context.Context, pair venue.TradingPair) (*venue.ExchangeAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	coin := pair.HyperliquidSymbol()
	perp, ok := a.market.Asset(coin)
	if !ok {
		if err := a.market.RefreshMeta(ctx); err != nil {
			return nil, venue.Wrap(venue.Hyperliquid, "meta", err)
		}
		perp, ok = a.market.Asset(coin)
	}
	if !ok {
		return nil, venue.Errf(venue.Hyperliquid, "resolve asset", "coin %s not in perp universe", coin)
	}
	a.log.Debug("resolved hyperliquid asset",
		zap.String("coin", coin),
		zap.Int("index", perp.Index),
		zap.Int32("sz_decimals", perp.SzDecimals),
	)
	return &venue.ExchangeAsset{
		Pair:         pair,
		Venue:        venue.Hyperliquid,
		Symbol:       coin,
		SizeDecimals: perp.SzDecimals,
	}, nil
}

func (a *Adapter) Price(ctx context.Context, asset *venue.ExchangeAsset) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	mid, err := a.market.Mid(ctx, asset.Symbol)
	if err != nil {
		return decimal.Zero, venue.Wrap(venue.Hyperliquid, "price", err)
	}
	if mid.Sign() <= 0 {
		return decimal.Zero, venue.Errf(venue.Hyperliquid, "price", "non-positive mid %s for %s", mid, asset.Symbol)
	}
	return mid, nil
}

func (a *Adapter) OpenLong(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	return a.open(ctx, asset, venue.SideLong, price, notional, tag)
}

func (a *Adapter) OpenShort(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	return a.open(ctx, asset, venue.SideShort, price, notional, tag)
}

func (a *Adapter) open(ctx context.Context, asset *venue.ExchangeAsset, side venue.Side, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	size, err := venue.SizeForNotional(notional, price, asset.SizeDecimals)
	if err != nil {
		return nil, nil, venue.Wrap(venue.Hyperliquid, "size order", err)
	}
	isBuy := side == venue.SideLong
	result, err := a.placeIoc(ctx, asset, isBuy, size, price, false, cloidFromTag(tag, false))
	if err != nil {
		return nil, nil, venue.Wrap(venue.Hyperliquid, "open "+string(side), err)
	}
	fillPrice, fillSize := fillFromResult(result, price, size)
	a.log.Info("hyperliquid order filled",
		zap.String("coin", asset.Symbol),
		zap.String("side", string(side)),
		zap.String("price", fillPrice.String()),
		zap.String("size", fillSize.String()),
		zap.String("oid", result.OID),
	)
	order := &venue.Order{Asset: asset, Side: side, Price: fillPrice, Size: fillSize, Cycle: tag.Cycle, Leg: tag.Leg}
	handle := &venue.PositionHandle{
		Venue:      venue.Hyperliquid,
		Asset:      asset,
		Side:       side,
		Size:       fillSize,
		EntryPrice: fillPrice,
		Tag:        tag,
		OrderID:    result.OID,
	}
	return order, handle, nil
}

func (a *Adapter) ClosePosition(ctx context.Context, handle *venue.PositionHandle, price decimal.Decimal) (*venue.Order, error) {
	side := handle.Side.Opposite()
	isBuy := side == venue.SideLong
	result, err := a.placeIoc(ctx, handle.Asset, isBuy, handle.Size, price, true, cloidFromTag(handle.Tag, true))
	if err != nil {
		return nil, venue.Wrap(venue.Hyperliquid, "close position", err)
	}
	fillPrice, fillSize := fillFromResult(result, price, handle.Size)
	a.log.Info("hyperliquid position closed",
		zap.String("coin", handle.Asset.Symbol),
		zap.String("side", string(side)),
		zap.String("price", fillPrice.String()),
		zap.String("size", fillSize.String()),
	)
	return &venue.Order{
		Asset: handle.Asset,
		Side:  side,
		Price: fillPrice,
		Size:  fillSize,
		Cycle: handle.Tag.Cycle,
		Leg:   handle.Tag.Leg,
	}, nil
}

func (a *Adapter) placeIoc(ctx context.Context, asset *venue.ExchangeAsset, isBuy bool, size, refPrice decimal.Decimal, reduceOnly bool, cloid string) (exchange.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	perp, ok := a.market.Asset(asset.Symbol)
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("coin %s not in perp universe", asset.Symbol)
	}
	limit := a.limitPrice(refPrice, isBuy, perp.SzDecimals)
	wire, err := exchange.LimitOrderWire(perp.Index, isBuy, size.InexactFloat64(), limit, reduceOnly, exchange.TifIoc, cloid)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	resp, err := a.exchange.PlaceOrder(ctx, wire)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	result, err := exchange.ParseOrderResponse(resp)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	if !result.Filled {
		return exchange.OrderResult{}, fmt.Errorf("ioc order %s did not fill", cloid)
	}
	return result, nil
}

// limitPrice pushes the reference price through the book by the configured
// slippage margin and normalizes it to the venue's price grid: at most 5
// significant figures and 6-szDecimals decimal places.
func (a *Adapter) limitPrice(refPrice decimal.Decimal, isBuy bool, szDecimals int32) float64 {
	margin := a.slippageBps.Div(decimal.NewFromInt(10_000))
	var limit decimal.Decimal
	if isBuy {
		limit = refPrice.Mul(decimal.NewFromInt(1).Add(margin))
	} else {
		limit = refPrice.Mul(decimal.NewFromInt(1).Sub(margin))
	}
	return normalizePrice(limit.InexactFloat64(), szDecimals)
}

func normalizePrice(px float64, szDecimals int32) float64 {
	sig, err := strconv.ParseFloat(fmt.Sprintf("%.5g", px), 64)
	if err != nil {
		sig = px
	}
	factor := math.Pow10(int(6 - szDecimals))
	return math.Round(sig*factor) / factor
}

// cloidFromTag packs the cycle/leg tag into the 128-bit hex client order id
// format the venue requires. The close bit keeps an exit's cloid distinct
// from its entry's.
func cloidFromTag(tag venue.Tag, close bool) string {
	value := tag.Cycle << 2
	if tag.Leg == venue.LegShort {
		value |= 0x2
	}
	if close {
		value |= 0x1
	}
	return fmt.Sprintf("0x%032x", value)
}

func fillFromResult(result exchange.OrderResult, reqPrice, reqSize decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	price := reqPrice
	if avg, err := decimal.NewFromString(result.AvgPx); err == nil && avg.Sign() > 0 {
		price = avg
	}
	size := reqSize
	if total, err := decimal.NewFromString(result.TotalSz); err == nil && total.Sign() > 0 {
		size = total
	}
	return price, size
}
