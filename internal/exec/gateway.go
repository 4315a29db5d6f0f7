package exec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"dn-hedge-bot/internal/state"
	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond
)

// Gateway wraps a venue with transport-level policy. Read calls and closes are
// retried with backoff: closes are reduce-only on every venue, so re-sending
// one cannot grow exposure. Opens are placed exactly once; a journal keyed by
// client order id refuses a second open for the same cycle leg, even across a
// process restart.
type Gateway struct {
	inner venue.Venue
	store state.Store
	log   *zap.Logger
}

func New(inner venue.Venue, store state.Store, log *zap.Logger) *Gateway {
	return &Gateway{inner: inner, store: store, log: log}
}

func (g *Gateway) Name() venue.Name { return g.inner.Name() }

func (g *Gateway) ResolveAsset(ctx context.Context, pair venue.TradingPair) (*venue.ExchangeAsset, error) {
	var asset *venue.ExchangeAsset
	err := g.retry(ctx, func() error {
		var err error
		asset, err = g.inner.ResolveAsset(ctx, pair)
		return err
	})
	return asset, err
}

func (g *Gateway) Price(ctx context.Context, asset *venue.ExchangeAsset) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := g.retry(ctx, func() error {
		var err error
		price, err = g.inner.Price(ctx, asset)
		return err
	})
	return price, err
}

func (g *Gateway) OpenLong(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	return g.openOnce(ctx, tag, func() (*venue.Order, *venue.PositionHandle, error) {
		return g.inner.OpenLong(ctx, asset, price, notional, tag)
	})
}

func (g *Gateway) OpenShort(ctx context.Context, asset *venue.ExchangeAsset, price, notional decimal.Decimal, tag venue.Tag) (*venue.Order, *venue.PositionHandle, error) {
	return g.openOnce(ctx, tag, func() (*venue.Order, *venue.PositionHandle, error) {
		return g.inner.OpenShort(ctx, asset, price, notional, tag)
	})
}

func (g *Gateway) ClosePosition(ctx context.Context, handle *venue.PositionHandle, price decimal.Decimal) (*venue.Order, error) {
	var order *venue.Order
	err := g.retry(ctx, func() error {
		var err error
		order, err = g.inner.ClosePosition(ctx, handle, price)
		return err
	})
	return order, err
}

// openOnce places a single entry order. There is deliberately no retry here:
// after an ambiguous failure the order may have executed, and re-sending it
// could double an unhedged exposure.
func (g *Gateway) openOnce(ctx context.Context, tag venue.Tag, place func() (*venue.Order, *venue.PositionHandle, error)) (*venue.Order, *venue.PositionHandle, error) {
	key := g.journalKey(tag)
	if g.store != nil {
		if _, seen, err := g.store.Get(ctx, key); err != nil {
			return nil, nil, venue.Wrap(g.Name(), "open", err)
		} else if seen {
			return nil, nil, venue.Errf(g.Name(), "open", "entry %s already placed", tag.ClientOrderID())
		}
		if err := g.store.Set(ctx, key, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
			return nil, nil, venue.Wrap(g.Name(), "open", err)
		}
	}
	order, handle, err := place()
	if err != nil && g.store != nil {
		// Journal entry stays: the remote order may have executed anyway.
		g.log.Warn("entry order failed after journaling",
			zap.String("venue", string(g.Name())),
			zap.String("client_order_id", tag.ClientOrderID()),
			zap.Error(err),
		)
	}
	return order, handle, err
}

func (g *Gateway) journalKey(tag venue.Tag) string {
	return fmt.Sprintf("exec:open:%s:%s", g.Name(), tag.ClientOrderID())
}

func (g *Gateway) retry(ctx context.Context, fn func() error) error {
	backoff := retryBackoff
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}
