package traj

import "errors"

// Sentinel errors shared by the trajectory and Markov analysis packages.
// Functions wrap these with fmt.Errorf("…: %w", …) so callers can classify
// failures with errors.Is without parsing messages.
var (
	// ErrType marks arguments of the wrong kind: unsupported dynamic types,
	// non-positive lagtimes, malformed numeric text.
	ErrType = errors.New("invalid argument type")

	// ErrValue marks well-typed arguments whose value is out of domain:
	// empty trajectories, unknown state labels, mismatched shapes.
	ErrValue = errors.New("invalid argument value")
)
