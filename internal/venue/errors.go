package venue

import (
	"errors"
	"fmt"
)

// VenueError wraps a failure of a single remote venue operation.
type VenueError struct {
	Venue Name
	Op    string
	Err   error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// Errf builds a VenueError from a formatted message.
func Errf(venue Name, op, format string, args ...any) *VenueError {
	return &VenueError{Venue: venue, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap builds a VenueError around an underlying error, avoiding double
// wrapping when err already carries venue context.
func Wrap(venue Name, op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return err
	}
	return &VenueError{Venue: venue, Op: op, Err: err}
}
