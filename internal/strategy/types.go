package strategy

import (
	"sync"

	"dn-hedge-bot/internal/venue"

	"github.com/shopspring/decimal"
)

type State string

type Event string

const (
	// StateFlat: no tracked positions on either venue.
	StateFlat State = "FLAT"
	// StateOpen: one long and one short tracked, on different venues.
	StateOpen State = "OPEN"
)

const (
	EventOpened Event = "OPENED"
	EventClosed Event = "CLOSED"
)

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateFlat}
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func nextState(current State, event Event) State {
	switch current {
	case StateFlat:
		if event == EventOpened {
			return StateOpen
		}
	case StateOpen:
		if event == EventClosed {
			return StateFlat
		}
	}
	return current
}

// CloseResult is the per-venue outcome of one close attempt.
type CloseResult struct {
	Venue venue.Name
	Order *venue.Order
	Err   error
}

// CloseReport summarizes a close step or a shutdown closeout.
type CloseReport struct {
	Results  []CloseResult
	LongPnL  decimal.Decimal
	ShortPnL decimal.Decimal
	TotalPnL decimal.Decimal
	HasPnL   bool
	Skipped  bool
}

// CycleReport is returned by Cycle for the driver to feed metrics, alerts and
// history sinks. A report is returned even when the cycle errored, carrying
// whatever steps did complete.
type CycleReport struct {
	Seq           uint64
	Close         *CloseReport
	Long          *venue.Order
	Short         *venue.Order
	EntryDelta    decimal.Decimal
	EntryDeltaPct decimal.Decimal
	Opened        bool
}
