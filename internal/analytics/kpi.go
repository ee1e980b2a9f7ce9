package analytics

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

type KPIs struct {
	TotalEntered      int    `json:"total_entered"`
	Parked            int    `json:"parked"`
	PassedThrough     int    `json:"passed_through"`
	CurrentlyInside   int    `json:"currently_inside"`
	StaleInside       int    `json:"stale_inside"`
	AvgParkedDuration int    `json:"avg_parked_duration"`
	PeakHour          string `json:"peak_hour"`
}

// ComputeKPIs summarises a session list. CurrentlyInside counts stale visits
// too; StaleInside breaks them out.
func ComputeKPIs(sessions []flow.VisitSession, loc *time.Location) KPIs {
	k := KPIs{TotalEntered: len(sessions), PeakHour: "N/A"}
	entries := make([]time.Time, 0, len(sessions))
	for _, s := range sessions {
		switch s.Status {
		case flow.StatusParked:
			k.Parked++
		case flow.StatusPassedThrough:
			k.PassedThrough++
		case flow.StatusStaleInside:
			k.StaleInside++
			k.CurrentlyInside++
		case flow.StatusCurrentlyInside:
			k.CurrentlyInside++
		}
		entries = append(entries, s.EntryTime)
	}

	k.AvgParkedDuration = AverageDuration(sessions, func(s flow.VisitSession) bool {
		return s.Status == flow.StatusParked
	})
	if hour, _, ok := PeakHour(entries, loc); ok {
		k.PeakHour = fmt.Sprintf("%d:00", hour)
	}
	return k
}

// AverageDuration is the rounded mean duration in minutes of the sessions
// matching keep, or 0 when none match. A nil keep matches every session.
func AverageDuration(sessions []flow.VisitSession, keep func(flow.VisitSession) bool) int {
	var durations []float64
	for _, s := range sessions {
		if s.DurationMinutes == nil || (keep != nil && !keep(s)) {
			continue
		}
		durations = append(durations, float64(*s.DurationMinutes))
	}
	if len(durations) == 0 {
		return 0
	}
	return int(math.Round(stat.Mean(durations, nil)))
}

// PeakHour returns the local hour of day (0-23) that occurs most often in
// times, with its count. Ties go to the hour seen first.
func PeakHour(times []time.Time, loc *time.Location) (hour, count int, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	hours := NewFrequency[int]()
	for _, t := range times {
		hours.Add(t.In(loc).Hour())
	}
	hour, ok = hours.Mode()
	return hour, hours.Count(hour), ok
}

type GatePeak struct {
	Gate  string `json:"gate"`
	Hour  int    `json:"hour"`
	Count int    `json:"count"`
}

// GatePeakHours finds the busiest entry hour for every gate.
func GatePeakHours(events []flow.DetectionEvent, loc *time.Location) []GatePeak {
	byGate := make(map[string][]time.Time)
	for _, e := range events {
		if e.Direction != flow.DirectionIn {
			continue
		}
		if gate := utils.GateName(e.LocationID); gate != "" {
			byGate[gate] = append(byGate[gate], e.Timestamp)
		}
	}

	out := make([]GatePeak, 0, len(byGate))
	for _, gate := range sortedKeys(byGate) {
		hour, count, _ := PeakHour(byGate[gate], loc)
		out = append(out, GatePeak{Gate: gate, Hour: hour, Count: count})
	}
	return out
}
