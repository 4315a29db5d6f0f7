package alerts

import (
	"context"
	"fmt"

	"dn-hedge-bot/internal/strategy"
	"dn-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Notifier formats strategy events into operator alerts. Send failures are
// logged, never propagated: alerting must not disturb the trading loop.
type Notifier struct {
	telegram *Telegram
	log      *zap.Logger
}

func NewNotifier(telegram *Telegram, log *zap.Logger) *Notifier {
	return &Notifier{telegram: telegram, log: log}
}

func (n *Notifier) CycleCompleted(ctx context.Context, report *strategy.CycleReport) {
	if report == nil {
		return
	}
	msg := fmt.Sprintf("cycle %d completed", report.Seq)
	if report.Close != nil && report.Close.HasPnL {
		msg += fmt.Sprintf("\npnl: %s (long %s, short %s)",
			report.Close.TotalPnL.StringFixed(4),
			report.Close.LongPnL.StringFixed(4),
			report.Close.ShortPnL.StringFixed(4),
		)
	}
	if report.Opened {
		msg += fmt.Sprintf("\nlong %s @ %s on %s\nshort %s @ %s on %s",
			report.Long.Size, report.Long.Price, report.Long.Asset.Venue,
			report.Short.Size, report.Short.Price, report.Short.Asset.Venue,
		)
	}
	n.send(ctx, msg)
}

// UnhedgedPosition is the loudest alert this bot produces: one leg filled
// and the other did not, so real directional exposure is sitting on a venue
// that the bot no longer tracks.
func (n *Notifier) UnhedgedPosition(ctx context.Context, cycleErr *strategy.CycleError) {
	if cycleErr == nil || cycleErr.UnhedgedLeg == "" {
		return
	}
	msg := fmt.Sprintf(
		"UNHEDGED POSITION\ncycle open failed with a single filled leg\n%s remains on %s\nmanual intervention required: %v",
		cycleErr.UnhedgedLeg, cycleErr.UnhedgedVenue, cycleErr.Err,
	)
	n.send(ctx, msg)
}

func (n *Notifier) CloseFailed(ctx context.Context, name venue.Name, err error) {
	n.send(ctx, fmt.Sprintf("close failed on %s: %v\nposition may remain open on the venue", name, err))
}

func (n *Notifier) Started(ctx context.Context, pair venue.TradingPair) {
	n.send(ctx, fmt.Sprintf("delta-neutral bot started for %s", pair))
}

func (n *Notifier) Stopped(ctx context.Context, report *strategy.CloseReport) {
	msg := "delta-neutral bot stopped"
	if report != nil && !report.Skipped {
		msg += fmt.Sprintf("\nfinal closeout pnl: %s", report.TotalPnL.StringFixed(4))
	}
	n.send(ctx, msg)
}

func (n *Notifier) send(ctx context.Context, msg string) {
	if n == nil || n.telegram == nil {
		return
	}
	if err := n.telegram.Send(ctx, msg); err != nil {
		n.log.Warn("telegram alert failed", zap.Error(err))
	}
}
