package utils

import (
	"errors"
	"strings"

	"flow-analytics-service/internal/domain/flow"
)

const (
	gateSuffix    = "_GATE"
	gatePrefix    = "GATE_"
	parkingPrefix = "PARKING_"
)

var ErrMalformedLocation = errors.New("malformed location identifier")

// NormalizeLocation trims and upper-cases a camera location identifier.
func NormalizeLocation(location string) string {
	return strings.ToUpper(strings.TrimSpace(location))
}

// ClassifyLocation decides whether a location id names a gate or a parking
// camera. Gates are "<NAME>_GATE" or "GATE_<NAME>", parking cameras are
// "PARKING_<N>". The parking prefix wins, so "PARKING_GATE" is a parking
// camera.
func ClassifyLocation(location string) (flow.LocationClass, error) {
	id := NormalizeLocation(location)
	switch {
	case strings.HasPrefix(id, parkingPrefix):
		if len(id) == len(parkingPrefix) {
			return "", ErrMalformedLocation
		}
		return flow.LocationInternal, nil
	case GateName(id) != "":
		return flow.LocationBoundary, nil
	default:
		return "", ErrMalformedLocation
	}
}

// GateName strips the gate prefix or suffix. It returns "" for ids that are
// not gate identifiers, including parking camera ids.
func GateName(location string) string {
	id := NormalizeLocation(location)
	if strings.HasPrefix(id, parkingPrefix) {
		return ""
	}
	if name, ok := strings.CutSuffix(id, gateSuffix); ok && name != "" {
		return name
	}
	if name, ok := strings.CutPrefix(id, gatePrefix); ok && name != "" {
		return name
	}
	return ""
}

// FlowPattern builds the compact "N->S" code from two normalized gate names.
func FlowPattern(entryGate, exitGate string) string {
	return initial(entryGate) + "->" + initial(exitGate)
}

func initial(gate string) string {
	if gate == "" {
		return "?"
	}
	return string([]rune(gate)[0])
}

// ParseDirection maps the raw direction string onto the domain values.
func ParseDirection(direction string) (flow.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "IN", "ENTRY":
		return flow.DirectionIn, true
	case "OUT", "EXIT":
		return flow.DirectionOut, true
	case "INTERNAL", "":
		return flow.DirectionInternal, true
	default:
		return "", false
	}
}
