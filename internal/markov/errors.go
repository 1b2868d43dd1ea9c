package markov

import (
	"errors"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// The estimators share the trajectory package's sentinel taxonomy; the
// aliases keep call sites local to this package.
var (
	ErrType  = traj.ErrType
	ErrValue = traj.ErrValue

	// ErrNotImplemented marks estimator variants that are recognized but not
	// available, e.g. reversible (detailed-balance) estimation.
	ErrNotImplemented = errors.New("not implemented")
)
