package strategy

import (
	"fmt"

	"dn-hedge-bot/internal/venue"
)

// InitError is fatal: one of the venues failed to resolve the trading pair
// and the engine holds no partial state.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("strategy initialization: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// CycleError reports a failed step of one cycle. When the open step fails
// after the opposite leg already filled, UnhedgedVenue/UnhedgedLeg name the
// untracked position left on the venue; this must be surfaced loudly and
// never retried automatically.
type CycleError struct {
	Step          string
	UnhedgedVenue venue.Name
	UnhedgedLeg   venue.Leg
	Err           error
}

func (e *CycleError) Error() string {
	if e.UnhedgedLeg != "" {
		return fmt.Sprintf("cycle %s step: %v (unhedged %s remains on %s)", e.Step, e.Err, e.UnhedgedLeg, e.UnhedgedVenue)
	}
	return fmt.Sprintf("cycle %s step: %v", e.Step, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }
