package venue

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Name identifies a trading venue.
type Name string

const (
	Hyperliquid Name = "hyperliquid"
	Binance     Name = "binance"
)

// TradingPair is an immutable base/quote asset pair.
type TradingPair struct {
	Base  string
	Quote string
}

func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{Base: strings.ToUpper(strings.TrimSpace(base)), Quote: strings.ToUpper(strings.TrimSpace(quote))}
}

func (p TradingPair) String() string { return p.Base + "-" + p.Quote }

// BinanceSymbol is the concatenated form used by Binance futures, e.g. BTCUSDT.
func (p TradingPair) BinanceSymbol() string { return p.Base + p.Quote }

// HyperliquidSymbol is the bare coin name used by Hyperliquid perps.
func (p TradingPair) HyperliquidSymbol() string { return p.Base }

// ExchangeAsset binds a TradingPair to one venue. SizeDecimals is the maximum
// number of decimal places the venue accepts for order sizes; it is mutated
// only by precision reconciliation during engine initialization.
type ExchangeAsset struct {
	Pair         TradingPair
	Venue        Name
	Symbol       string
	SizeDecimals int32
}

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Leg names the role an order plays within a cycle.
type Leg string

const (
	LegLong  Leg = "LONG_LEG"
	LegShort Leg = "SHORT_LEG"
)

// Tag links an order to the cycle and leg that produced it, so exits can be
// matched to entries without relying on side/venue inference alone.
type Tag struct {
	Cycle uint64
	Leg   Leg
}

// ClientOrderID renders the tag as a venue client order id.
func (t Tag) ClientOrderID() string {
	leg := "short"
	if t.Leg == LegLong {
		leg = "long"
	}
	return fmt.Sprintf("cyc-%d-%s", t.Cycle, leg)
}

// Order is the immutable record of a single fill.
type Order struct {
	Asset *ExchangeAsset
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
	Cycle uint64
	Leg   Leg
}

// Notional is the quote-currency value of the fill.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// PositionHandle identifies one open position for a later close call. Venues
// hold no mutable last-order state; the caller owns the handle.
type PositionHandle struct {
	Venue      Name
	Asset      *ExchangeAsset
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Tag        Tag
	OrderID    string
}

// Venue is the capability set the strategy engine consumes. Implementations
// translate these into venue wire calls; every failure is a *VenueError.
type Venue interface {
	Name() Name
	ResolveAsset(ctx context.Context, pair TradingPair) (*ExchangeAsset, error)
	Price(ctx context.Context, asset *ExchangeAsset) (decimal.Decimal, error)
	OpenLong(ctx context.Context, asset *ExchangeAsset, price, notional decimal.Decimal, tag Tag) (*Order, *PositionHandle, error)
	OpenShort(ctx context.Context, asset *ExchangeAsset, price, notional decimal.Decimal, tag Tag) (*Order, *PositionHandle, error)
	ClosePosition(ctx context.Context, handle *PositionHandle, price decimal.Decimal) (*Order, error)
}

// SizeForNotional converts a quote-currency notional into a base-asset order
// size at the given price, rounded to the asset's size precision.
func SizeForNotional(notional, price decimal.Decimal, sizeDecimals int32) (decimal.Decimal, error) {
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("price is zero")
	}
	size := notional.Div(price).RoundBank(sizeDecimals)
	if size.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("notional %s at price %s rounds to zero size", notional, price)
	}
	return size, nil
}
