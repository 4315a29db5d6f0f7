package strategy

import (
	"context"
	"errors"
	"time"

	"dn-hedge-bot/internal/state"
	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine owns the position pair lifecycle: FLAT -> OPEN -> FLAT per cycle.
// It is single-writer: the driver never overlaps Cycle calls, so the last
// order references need no lock.
type Engine struct {
	venueA   venue.Venue
	venueB   venue.Venue
	pair     venue.TradingPair
	notional decimal.Decimal
	store    state.Store
	log      *zap.Logger
	sm       *StateMachine

	assetA *venue.ExchangeAsset
	assetB *venue.ExchangeAsset

	lastLong    *venue.Order
	lastShort   *venue.Order
	longHandle  *venue.PositionHandle
	shortHandle *venue.PositionHandle
	cycleSeq    uint64
}

func New(venueA, venueB venue.Venue, pair venue.TradingPair, notional decimal.Decimal, store state.Store, log *zap.Logger) *Engine {
	return &Engine{
		venueA:   venueA,
		venueB:   venueB,
		pair:     pair,
		notional: notional,
		store:    store,
		log:      log,
		sm:       NewStateMachine(),
	}
}

// Initialize resolves the trading pair on both venues concurrently and
// reconciles size precision: the coarser venue wins, so no order size can
// exceed what either venue represents. Any resolution failure aborts with an
// InitError and no partial state.
func (e *Engine) Initialize(ctx context.Context) error {
	e.log.Info("initializing delta-neutral engine",
		zap.String("pair", e.pair.String()),
		zap.String("venue_a", string(e.venueA.Name())),
		zap.String("venue_b", string(e.venueB.Name())),
	)
	ra, rb := inPair(ctx,
		func(ctx context.Context) (*venue.ExchangeAsset, error) { return e.venueA.ResolveAsset(ctx, e.pair) },
		func(ctx context.Context) (*venue.ExchangeAsset, error) { return e.venueB.ResolveAsset(ctx, e.pair) },
	)
	if ra.err != nil {
		return &InitError{Err: ra.err}
	}
	if rb.err != nil {
		return &InitError{Err: rb.err}
	}
	e.assetA, e.assetB = ra.val, rb.val

	if e.assetA.SizeDecimals < e.assetB.SizeDecimals {
		e.log.Info("reconciled size precision",
			zap.String("venue", string(e.venueA.Name())),
			zap.Int32("size_decimals", e.assetA.SizeDecimals),
		)
		e.assetB.SizeDecimals = e.assetA.SizeDecimals
	} else {
		e.log.Info("reconciled size precision",
			zap.String("venue", string(e.venueB.Name())),
			zap.Int32("size_decimals", e.assetB.SizeDecimals),
		)
		e.assetA.SizeDecimals = e.assetB.SizeDecimals
	}

	seq, err := state.LoadCycleSeq(ctx, e.store)
	if err != nil {
		e.log.Warn("cycle sequence load failed", zap.Error(err))
	}
	e.cycleSeq = seq
	e.restoreSnapshot(ctx)
	return nil
}

// restoreSnapshot rebuilds tracked positions from a persisted snapshot left
// by a previous run, so the next cycle closes real positions instead of
// leaving them stranded on the venues.
func (e *Engine) restoreSnapshot(ctx context.Context) {
	snap, ok, err := state.LoadPositionSnapshot(ctx, e.store)
	if err != nil {
		e.log.Warn("position snapshot load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	longOrder, longHandle := e.legFromSnapshot(snap.Cycle, snap.Long, venue.SideLong, venue.LegLong)
	shortOrder, shortHandle := e.legFromSnapshot(snap.Cycle, snap.Short, venue.SideShort, venue.LegShort)
	if longOrder == nil || shortOrder == nil {
		e.log.Warn("open position snapshot does not match configured venues; manual reconciliation required",
			zap.Uint64("cycle", snap.Cycle),
			zap.String("long_venue", snap.Long.Venue),
			zap.String("short_venue", snap.Short.Venue),
		)
		return
	}
	e.lastLong, e.longHandle = longOrder, longHandle
	e.lastShort, e.shortHandle = shortOrder, shortHandle
	if snap.Cycle > e.cycleSeq {
		e.cycleSeq = snap.Cycle
	}
	e.sm.SetState(StateOpen)
	e.log.Info("restored open position pair from snapshot",
		zap.Uint64("cycle", snap.Cycle),
		zap.String("long_venue", snap.Long.Venue),
		zap.String("short_venue", snap.Short.Venue),
	)
}

func (e *Engine) legFromSnapshot(cycle uint64, leg state.LegSnapshot, side venue.Side, legName venue.Leg) (*venue.Order, *venue.PositionHandle) {
	asset := e.assetFor(venue.Name(leg.Venue))
	if asset == nil || asset.Symbol != leg.Symbol || string(side) != leg.Side {
		return nil, nil
	}
	price, err := decimal.NewFromString(leg.Price)
	if err != nil {
		return nil, nil
	}
	size, err := decimal.NewFromString(leg.Size)
	if err != nil {
		return nil, nil
	}
	order := &venue.Order{Asset: asset, Side: side, Price: price, Size: size, Cycle: cycle, Leg: legName}
	handle := &venue.PositionHandle{
		Venue:      asset.Venue,
		Asset:      asset,
		Side:       side,
		Size:       size,
		EntryPrice: price,
		Tag:        venue.Tag{Cycle: cycle, Leg: legName},
		OrderID:    leg.OrderID,
	}
	return order, handle
}

func (e *Engine) assetFor(name venue.Name) *venue.ExchangeAsset {
	switch name {
	case e.venueA.Name():
		return e.assetA
	case e.venueB.Name():
		return e.assetB
	}
	return nil
}

// Cycle executes one close/reopen round trip. A report is always returned,
// carrying whatever steps completed; the error, when non-nil, is a
// *CycleError.
func (e *Engine) Cycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{Seq: e.cycleSeq + 1}

	if e.sm.Current() == StateOpen {
		longPx, shortPx := e.freshClosePrices(ctx)
		report.Close = e.closePair(ctx, longPx, shortPx)
	}

	pa, pb := inPair(ctx,
		func(ctx context.Context) (decimal.Decimal, error) { return e.venueA.Price(ctx, e.assetA) },
		func(ctx context.Context) (decimal.Decimal, error) { return e.venueB.Price(ctx, e.assetB) },
	)
	if err := errors.Join(pa.err, pb.err); err != nil {
		return report, &CycleError{Step: "price", Err: err}
	}
	e.log.Info("prices fetched",
		zap.String(string(e.venueA.Name()), pa.val.String()),
		zap.String(string(e.venueB.Name()), pb.val.String()),
	)

	long, short := e.assignSides(pa.val, pb.val)
	e.log.Info("opening positions",
		zap.String("long_venue", string(long.v.Name())),
		zap.String("short_venue", string(short.v.Name())),
	)

	// Sequence is committed before placement so a retried cycle never reuses
	// the client order ids of an attempt whose outcome is unknown.
	e.cycleSeq++
	report.Seq = e.cycleSeq
	if err := state.SaveCycleSeq(ctx, e.store, e.cycleSeq); err != nil {
		e.log.Warn("cycle sequence save failed", zap.Error(err))
	}
	longTag := venue.Tag{Cycle: e.cycleSeq, Leg: venue.LegLong}
	shortTag := venue.Tag{Cycle: e.cycleSeq, Leg: venue.LegShort}

	lr, sr := inPair(ctx,
		func(ctx context.Context) (openLeg, error) {
			order, handle, err := long.v.OpenLong(ctx, long.asset, long.price, e.notional, longTag)
			return openLeg{order: order, handle: handle}, err
		},
		func(ctx context.Context) (openLeg, error) {
			order, handle, err := short.v.OpenShort(ctx, short.asset, short.price, e.notional, shortTag)
			return openLeg{order: order, handle: handle}, err
		},
	)
	if lr.err != nil || sr.err != nil {
		cycleErr := &CycleError{Step: "open", Err: errors.Join(lr.err, sr.err)}
		switch {
		case lr.err == nil && sr.err != nil:
			cycleErr.UnhedgedVenue = long.v.Name()
			cycleErr.UnhedgedLeg = venue.LegLong
		case sr.err == nil && lr.err != nil:
			cycleErr.UnhedgedVenue = short.v.Name()
			cycleErr.UnhedgedLeg = venue.LegShort
		}
		if cycleErr.UnhedgedLeg != "" {
			e.log.Error("open step left an unhedged position",
				zap.String("unhedged_venue", string(cycleErr.UnhedgedVenue)),
				zap.String("unhedged_leg", string(cycleErr.UnhedgedLeg)),
				zap.Error(cycleErr.Err),
			)
		}
		return report, cycleErr
	}

	e.lastLong, e.longHandle = lr.val.order, lr.val.handle
	e.lastShort, e.shortHandle = sr.val.order, sr.val.handle
	e.sm.Apply(EventOpened)
	e.persistSnapshot(ctx)

	report.Long, report.Short = e.lastLong, e.lastShort
	report.Opened = true
	report.EntryDelta = e.lastLong.Notional().Sub(e.lastShort.Notional())
	if !e.lastLong.Notional().IsZero() {
		report.EntryDeltaPct = report.EntryDelta.Div(e.lastLong.Notional()).Mul(decimal.NewFromInt(100))
	}
	e.log.Info("entry delta",
		zap.String("delta", report.EntryDelta.StringFixed(4)),
		zap.String("delta_pct", report.EntryDeltaPct.StringFixed(4)),
	)
	return report, nil
}

type legPlan struct {
	v     venue.Venue
	asset *venue.ExchangeAsset
	price decimal.Decimal
}

type openLeg struct {
	order  *venue.Order
	handle *venue.PositionHandle
}

// assignSides gives the long leg to the venue with the strictly lower price.
// On exact equality the long defaults to venue B; the tie-break is
// deterministic, not a race.
func (e *Engine) assignSides(priceA, priceB decimal.Decimal) (long, short legPlan) {
	if priceA.LessThan(priceB) {
		return legPlan{v: e.venueA, asset: e.assetA, price: priceA},
			legPlan{v: e.venueB, asset: e.assetB, price: priceB}
	}
	return legPlan{v: e.venueB, asset: e.assetB, price: priceB},
		legPlan{v: e.venueA, asset: e.assetA, price: priceA}
}

// freshClosePrices fetches both venues' prices for the close step, falling
// back to a leg's entry price when its venue's fetch fails so the unwind
// stays best-effort.
func (e *Engine) freshClosePrices(ctx context.Context) (longPx, shortPx decimal.Decimal) {
	pa, pb := inPair(ctx,
		func(ctx context.Context) (decimal.Decimal, error) { return e.venueA.Price(ctx, e.assetA) },
		func(ctx context.Context) (decimal.Decimal, error) { return e.venueB.Price(ctx, e.assetB) },
	)
	priceFor := func(handle *venue.PositionHandle) decimal.Decimal {
		var res legResult[decimal.Decimal]
		switch handle.Venue {
		case e.venueA.Name():
			res = pa
		default:
			res = pb
		}
		if res.err != nil {
			e.log.Warn("close price fetch failed, using entry price",
				zap.String("venue", string(handle.Venue)),
				zap.Error(res.err),
			)
			return handle.EntryPrice
		}
		return res.val
	}
	return priceFor(e.longHandle), priceFor(e.shortHandle)
}

// closePair closes both tracked legs concurrently, best-effort: one venue's
// failure never blocks the other close, and tracking is cleared
// unconditionally afterwards.
func (e *Engine) closePair(ctx context.Context, longPx, shortPx decimal.Decimal) *CloseReport {
	report := &CloseReport{}
	longHandle, shortHandle := e.longHandle, e.shortHandle

	e.log.Info("closing positions",
		zap.String("long_venue", string(longHandle.Venue)),
		zap.String("short_venue", string(shortHandle.Venue)),
	)
	lr, sr := inPair(ctx,
		func(ctx context.Context) (*venue.Order, error) {
			order, err := e.venueFor(longHandle.Venue).ClosePosition(ctx, longHandle, longPx)
			return order, err
		},
		func(ctx context.Context) (*venue.Order, error) {
			order, err := e.venueFor(shortHandle.Venue).ClosePosition(ctx, shortHandle, shortPx)
			return order, err
		},
	)
	report.Results = []CloseResult{
		{Venue: longHandle.Venue, Order: lr.val, Err: lr.err},
		{Venue: shortHandle.Venue, Order: sr.val, Err: sr.err},
	}
	var exits []*venue.Order
	for _, res := range report.Results {
		if res.Err != nil {
			e.log.Error("close failed", zap.String("venue", string(res.Venue)), zap.Error(res.Err))
			continue
		}
		exits = append(exits, res.Order)
	}

	report.HasPnL = true
	if len(exits) == 2 {
		longExit, shortExit := matchExits(e.lastLong, e.lastShort, exits)
		if longExit != nil && shortExit != nil {
			report.LongPnL, report.ShortPnL, report.TotalPnL = computePnL(e.lastLong, e.lastShort, longExit, shortExit)
			e.log.Info("cycle pnl",
				zap.String("long_pnl", report.LongPnL.StringFixed(4)),
				zap.String("short_pnl", report.ShortPnL.StringFixed(4)),
				zap.String("total_pnl", report.TotalPnL.StringFixed(4)),
			)
		} else {
			e.log.Warn("missing long or short exit order, pnl reported as zero")
		}
	} else {
		e.log.Warn("incomplete close, pnl reported as zero", zap.Int("exits", len(exits)))
	}

	e.lastLong, e.lastShort = nil, nil
	e.longHandle, e.shortHandle = nil, nil
	e.sm.Apply(EventClosed)
	if err := state.ClearPositionSnapshot(ctx, e.store); err != nil {
		e.log.Warn("position snapshot clear failed", zap.Error(err))
	}
	return report
}

// ClosePrices supplies a close price per leg for the shutdown closeout; zero
// values fall back to the leg's entry price.
type ClosePrices struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// ClosePositions unwinds any tracked pair. It is idempotent: when the engine
// is flat it performs no remote calls.
func (e *Engine) ClosePositions(ctx context.Context, prices ClosePrices) *CloseReport {
	if e.sm.Current() != StateOpen {
		e.log.Info("no open positions to close")
		return &CloseReport{Skipped: true}
	}
	longPx := prices.Long
	if longPx.IsZero() {
		longPx = e.longHandle.EntryPrice
	}
	shortPx := prices.Short
	if shortPx.IsZero() {
		shortPx = e.shortHandle.EntryPrice
	}
	return e.closePair(ctx, longPx, shortPx)
}

// OpenOrders exposes the tracked entry pair, when one is open.
func (e *Engine) OpenOrders() (long, short *venue.Order, ok bool) {
	if e.sm.Current() != StateOpen {
		return nil, nil, false
	}
	return e.lastLong, e.lastShort, true
}

func (e *Engine) State() State { return e.sm.Current() }

// Pair returns the configured trading pair.
func (e *Engine) Pair() venue.TradingPair { return e.pair }

func (e *Engine) venueFor(name venue.Name) venue.Venue {
	if name == e.venueA.Name() {
		return e.venueA
	}
	return e.venueB
}

func (e *Engine) persistSnapshot(ctx context.Context) {
	snap := state.PositionSnapshot{
		Cycle:      e.cycleSeq,
		Long:       legSnapshot(e.lastLong, e.longHandle),
		Short:      legSnapshot(e.lastShort, e.shortHandle),
		OpenedAtMS: time.Now().UnixMilli(),
	}
	if err := state.SavePositionSnapshot(ctx, e.store, snap); err != nil {
		e.log.Warn("position snapshot save failed", zap.Error(err))
	}
}

func legSnapshot(order *venue.Order, handle *venue.PositionHandle) state.LegSnapshot {
	return state.LegSnapshot{
		Venue:   string(order.Asset.Venue),
		Symbol:  order.Asset.Symbol,
		Side:    string(order.Side),
		Price:   order.Price.String(),
		Size:    order.Size.String(),
		OrderID: handle.OrderID,
	}
}
