package strategy

import (
	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
)

// matchExits pairs exit orders with the current entries. Exits are matched by
// cycle/leg tag first; exits without a usable tag fall back to side inversion
// plus venue identity (closing a long produces a SHORT order on the long's
// venue, and vice versa). The fallback is sound because each venue holds at
// most one position at a time.
func matchExits(lastLong, lastShort *venue.Order, exits []*venue.Order) (longExit, shortExit *venue.Order) {
	for _, exit := range exits {
		if exit == nil {
			continue
		}
		switch {
		case lastLong != nil && exit.Leg == venue.LegLong && exit.Cycle == lastLong.Cycle:
			longExit = exit
		case lastShort != nil && exit.Leg == venue.LegShort && exit.Cycle == lastShort.Cycle:
			shortExit = exit
		case lastLong != nil && exit.Side == venue.SideShort && sameVenue(exit, lastLong):
			longExit = exit
		case lastShort != nil && exit.Side == venue.SideLong && sameVenue(exit, lastShort):
			shortExit = exit
		}
	}
	return longExit, shortExit
}

func sameVenue(a, b *venue.Order) bool {
	return a.Asset != nil && b.Asset != nil && a.Asset.Venue == b.Asset.Venue
}

// computePnL applies the entry/exit arithmetic for one closed pair:
// long leg gains when the exit is above entry, short leg gains when the exit
// is below entry. Sizes are the entry sizes.
func computePnL(lastLong, lastShort, longExit, shortExit *venue.Order) (longPnL, shortPnL, total decimal.Decimal) {
	longPnL = longExit.Price.Sub(lastLong.Price).Mul(lastLong.Size)
	shortPnL = lastShort.Price.Sub(shortExit.Price).Mul(lastShort.Size)
	return longPnL, shortPnL, longPnL.Add(shortPnL)
}
