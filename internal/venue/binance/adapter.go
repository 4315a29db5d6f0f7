package binance

import (
	"context"
	"strconv"
	"time"

	"dn-hedge-bot/internal/config"
	"dn-hedge-bot/internal/venue"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter trades USD-M perpetual futures through the Binance fapi. All
// orders are market orders; closes are flagged reduce-only so a duplicate
// close can never flip the position.
type Adapter struct {
	client  *futures.Client
	timeout time.Duration
	log     *zap.Logger
}

func New(cfg config.BinanceConfig, apiKey, apiSecret string, log *zap.Logger) *Adapter {
	client := futures.NewClient(apiKey, apiSecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{client: client, timeout: timeout, log: log}
}

func (a *Adapter) Name() venue.Name { return venue.Binance }

// ResolveAsset looks the symbol up in the futures exchange info and takes
// its quantity precision as the venue's size precision.
func (a *Adapter) ResolveAsset(ctx context.Context, pair venue.TradingPair) (*venue.ExchangeAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	symbol := pair.BinanceSymbol()
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, venue.Wrap(venue.Binance, "exchange info", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		a.log.Debug("resolved binance asset",
			zap.String("symbol", symbol),
			zap.Int("quantity_precision", sym.QuantityPrecision),
		)
		return &venue.ExchangeAsset{
			Pair:         pair,
			Venue:        venue.Binance,
			Symbol:       symbol,
			SizeDecimals: int32(sym.QuantityPrecision),
		}, nil
	}
	return nil, venue.Errf(venue.Binance, "resolve asset", "symbol %s not listed", symbol)
}

func (a *Adapter) Price(ctx context.Context, asset *venue.ExchangeAsset) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prices, err := a.client.NewListPricesService().Symbol(asset.Symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, venue.Wrap(venue.Binance, "price", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, venue.Errf(venue.Binance, "price", "no ticker for %s", asset.Symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, venue.Errf(venue.Binance, "price", "bad ticker price %q: %v", prices[0].Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, venue.Errf(venue.Binance, "price", "non-positive ticker price %s", price)
	}
	return price, nil
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
		return nil, nil, venue.Wrap(venue.Binance, "size order", err)
	}
	resp, err := a.placeMarket(ctx, asset.Symbol, side, size, tag.ClientOrderID(), false)
	if err != nil {
		return nil, nil, venue.Wrap(venue.Binance, "open "+string(side), err)
	}
	fillPrice, fillSize := fillFromResponse(resp, price, size)
	a.log.Info("binance order filled",
		zap.String("symbol", asset.Symbol),
		zap.String("side", string(side)),
		zap.String("price", fillPrice.String()),
		zap.String("size", fillSize.String()),
		zap.Int64("order_id", resp.OrderID),
	)
	order := &venue.Order{Asset: asset, Side: side, Price: fillPrice, Size: fillSize, Cycle: tag.Cycle, Leg: tag.Leg}
	handle := &venue.PositionHandle{
		Venue:      venue.Binance,
		Asset:      asset,
		Side:       side,
		Size:       fillSize,
		EntryPrice: fillPrice,
		Tag:        tag,
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
	}
	return order, handle, nil
}

func (a *Adapter) ClosePosition(ctx context.Context, handle *venue.PositionHandle, price decimal.Decimal) (*venue.Order, error) {
	side := handle.Side.Opposite()
	resp, err := a.placeMarket(ctx, handle.Asset.Symbol, side, handle.Size, handle.Tag.ClientOrderID()+"-close", true)
	if err != nil {
		return nil, venue.Wrap(venue.Binance, "close position", err)
	}
	fillPrice, fillSize := fillFromResponse(resp, price, handle.Size)
	a.log.Info("binance position closed",
		zap.String("symbol", handle.Asset.Symbol),
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

func (a *Adapter) placeMarket(ctx context.Context, symbol string, side venue.Side, size decimal.Decimal, clientOrderID string, reduceOnly bool) (*futures.CreateOrderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	svc := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(size.String()).
		NewClientOrderID(clientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	return svc.Do(ctx)
}

func binanceSide(side venue.Side) futures.SideType {
	if side == venue.SideLong {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// fillFromResponse extracts the average fill price and executed quantity,
// falling back to the request values when the venue reports zeros, as RESULT
// responses sometimes do before the fill settles.
func fillFromResponse(resp *futures.CreateOrderResponse, reqPrice, reqSize decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	price := reqPrice
	if avg, err := decimal.NewFromString(resp.AvgPrice); err == nil && avg.Sign() > 0 {
		price = avg
	}
	size := reqSize
	if executed, err := decimal.NewFromString(resp.ExecutedQuantity); err == nil && executed.Sign() > 0 {
		size = executed
	}
	return price, size
}
