package analytics

import (
	"fmt"
	"sort"
	"strings"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

// UnknownKey groups sessions whose dimension value is empty.
const UnknownKey = "Unknown"

type Dimension string

const (
	DimensionEntryGate   Dimension = "entry_gate"
	DimensionExitGate    Dimension = "exit_gate"
	DimensionVehicleType Dimension = "vehicle_type"
	DimensionFlowPattern Dimension = "flow_pattern"
	DimensionColor       Dimension = "color"
)

func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case DimensionEntryGate, DimensionExitGate, DimensionVehicleType, DimensionFlowPattern, DimensionColor:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", ErrInvalidArgument, s)
	}
}

type DimensionRow struct {
	Key    string `json:"key"`
	Total  int    `json:"total"`
	Parked int    `json:"parked"`
	Passed int    `json:"passed"`
	Inside int    `json:"inside"`
}

// dimensionKey returns the session's value for dim. Sessions without an exit
// have no exit gate or flow pattern and are skipped for those dimensions.
func dimensionKey(s flow.VisitSession, dim Dimension) (string, bool) {
	switch dim {
	case DimensionEntryGate:
		return orUnknown(s.EntryGate), true
	case DimensionExitGate:
		if s.ExitGate == nil {
			return "", false
		}
		return orUnknown(*s.ExitGate), true
	case DimensionFlowPattern:
		if s.FlowPattern == nil {
			return "", false
		}
		return *s.FlowPattern, true
	case DimensionVehicleType:
		return orUnknown(s.VehicleType), true
	case DimensionColor:
		return orUnknown(s.Color), true
	}
	return "", false
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return UnknownKey
	}
	return v
}

// Rollup groups sessions by dim. Rows keep the order in which keys were first
// seen.
func Rollup(sessions []flow.VisitSession, dim Dimension) ([]DimensionRow, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}

	var (
		rows  []DimensionRow
		index = make(map[string]int)
	)
	for _, s := range sessions {
		key, ok := dimensionKey(s, dim)
		if !ok {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(rows)
			index[key] = i
			rows = append(rows, DimensionRow{Key: key})
		}
		rows[i].Total++
		switch {
		case s.Status == flow.StatusParked:
			rows[i].Parked++
		case s.Status == flow.StatusPassedThrough:
			rows[i].Passed++
		case s.Status.IsOpen():
			rows[i].Inside++
		}
	}
	if rows == nil {
		rows = []DimensionRow{}
	}
	return rows, nil
}

// TopN orders rows by descending total, keeping input order on ties.
func TopN(rows []DimensionRow, n int) []DimensionRow {
	out := append([]DimensionRow(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Total > out[j].Total
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FlowDistribution is the flow pattern rollup ordered by pattern.
func FlowDistribution(sessions []flow.VisitSession) []DimensionRow {
	rows, _ := Rollup(sessions, DimensionFlowPattern)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Key < rows[j].Key
	})
	return rows
}

type GateLoadRow struct {
	Gate string `json:"gate"`
	In   int    `json:"in"`
	Out  int    `json:"out"`
}

// GateLoad counts IN and OUT crossings per gate.
func GateLoad(events []flow.DetectionEvent) []GateLoadRow {
	gates := make(map[string]*GateLoadRow)
	for _, e := range events {
		gate := utils.GateName(e.LocationID)
		if gate == "" {
			continue
		}
		row, ok := gates[gate]
		if !ok {
			row = &GateLoadRow{Gate: gate}
			gates[gate] = row
		}
		switch e.Direction {
		case flow.DirectionIn:
			row.In++
		case flow.DirectionOut:
			row.Out++
		}
	}

	out := make([]GateLoadRow, 0, len(gates))
	for _, k := range sortedKeys(gates) {
		out = append(out, *gates[k])
	}
	return out
}

type CameraLoadRow struct {
	Camera     string `json:"camera"`
	Detections int    `json:"detections"`
}

// ParkingLoad counts detections per parking camera.
func ParkingLoad(events []flow.DetectionEvent) []CameraLoadRow {
	cameras := make(map[string]int)
	for _, e := range events {
		if isParkingEvent(e) {
			cameras[utils.NormalizeLocation(e.LocationID)]++
		}
	}

	out := make([]CameraLoadRow, 0, len(cameras))
	for _, k := range sortedKeys(cameras) {
		out = append(out, CameraLoadRow{Camera: k, Detections: cameras[k]})
	}
	return out
}
