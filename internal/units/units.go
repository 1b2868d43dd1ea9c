// Package units provides shared constants and validation for time axis units
package units

// Unit constants
const (
	Frames = "frames"
	FS     = "fs"
	PS     = "ps"
	NS     = "ns"
	US     = "us"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Frames, FS, PS, NS, US}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "frames, fs, ps, ns, us"
}

// Convert converts a time from frames to the target units
// Trajectories and the database store times in frames
func Convert(frames float64, targetUnits string, framesPerUnit float64) float64 {
	switch targetUnits {
	case FS, PS, NS, US:
		if framesPerUnit > 0 {
			return frames / framesPerUnit
		}
		return frames
	case Frames:
		return frames
	default:
		return frames // default to frames if unknown unit
	}
}

// AxisLabel returns the axis annotation for the given unit, e.g. "time [ps]"
func AxisLabel(unit string) string {
	if !IsValid(unit) {
		unit = Frames
	}
	return "time [" + unit + "]"
}
