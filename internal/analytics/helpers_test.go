package analytics

import (
	"time"

	"flow-analytics-service/internal/domain/flow"
)

var base = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func clock(hour, minute int) time.Time {
	return base.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func closedSession(id string, plate flow.VehicleIdentity, status flow.SessionStatus, entryGate, exitGate string, entry, exit time.Time) flow.VisitSession {
	pattern := string(entryGate[0]) + "->" + string(exitGate[0])
	duration := int(exit.Sub(entry).Round(time.Minute).Minutes())
	return flow.VisitSession{
		ID:              id,
		Identity:        plate,
		VehicleType:     "Sedan",
		Color:           "Red",
		EntryGate:       entryGate,
		ExitGate:        &exitGate,
		FlowPattern:     &pattern,
		Status:          status,
		EntryTime:       entry,
		ExitTime:        &exit,
		DurationMinutes: &duration,
		Confidence:      1,
	}
}

func openSession(id string, plate flow.VehicleIdentity, status flow.SessionStatus, entryGate string, entry time.Time) flow.VisitSession {
	return flow.VisitSession{
		ID:          id,
		Identity:    plate,
		VehicleType: "Sedan",
		Color:       "Red",
		EntryGate:   entryGate,
		Status:      status,
		EntryTime:   entry,
		Confidence:  1,
	}
}

func detection(id string, plate flow.VehicleIdentity, location string, dir flow.Direction, ts time.Time, confidence float64) flow.DetectionEvent {
	class := flow.LocationBoundary
	if dir == flow.DirectionInternal {
		class = flow.LocationInternal
	}
	return flow.DetectionEvent{
		ID:            id,
		Timestamp:     ts,
		Identity:      plate,
		VehicleType:   "Sedan",
		Color:         "Red",
		LocationClass: class,
		LocationID:    location,
		Direction:     dir,
		Confidence:    confidence,
	}
}
