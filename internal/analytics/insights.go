package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

const (
	DefaultRepeatVisitorMin = 3
	DefaultRankingLimit     = 10
	minSearchLength         = 2
)

type Insight struct {
	Identity          flow.VehicleIdentity `json:"plate"`
	TotalSessions     int                  `json:"total_sessions"`
	Parked            int                  `json:"parked"`
	Passed            int                  `json:"passed"`
	ParkedRatio       int                  `json:"parked_ratio"`
	LastSeen          *time.Time           `json:"last_seen"`
	LastLocation      string               `json:"last_location,omitempty"`
	VehicleType       string               `json:"vehicle_type,omitempty"`
	Color             string               `json:"color,omitempty"`
	CommonEntryGate   string               `json:"common_entry_gate,omitempty"`
	CommonExitGate    string               `json:"common_exit_gate,omitempty"`
	CommonFlowPattern string               `json:"common_flow_pattern,omitempty"`
	Sessions          []flow.VisitSession  `json:"sessions"`
}

// VehicleInsight summarises every session of one vehicle.
func VehicleInsight(sessions []flow.VisitSession, identity flow.VehicleIdentity) Insight {
	ins := Insight{Identity: identity, Sessions: []flow.VisitSession{}}
	var (
		entries = NewFrequency[string]()
		exits   = NewFrequency[string]()
		flows   = NewFrequency[string]()
		latest  *flow.VisitSession
	)
	for i := range sessions {
		s := sessions[i]
		if s.Identity != identity {
			continue
		}
		ins.Sessions = append(ins.Sessions, s)
		switch s.Status {
		case flow.StatusParked:
			ins.Parked++
		case flow.StatusPassedThrough:
			ins.Passed++
		}
		if s.EntryGate != "" {
			entries.Add(s.EntryGate)
		}
		if s.ExitGate != nil && *s.ExitGate != "" {
			exits.Add(*s.ExitGate)
		}
		if s.FlowPattern != nil {
			flows.Add(*s.FlowPattern)
		}
		if latest == nil || s.EntryTime.After(latest.EntryTime) {
			latest = &sessions[i]
		}
	}

	ins.TotalSessions = len(ins.Sessions)
	if ins.TotalSessions > 0 {
		ins.ParkedRatio = int(math.Round(float64(ins.Parked) * 100 / float64(ins.TotalSessions)))
	}
	if latest != nil {
		seen := latest.EntryTime
		ins.LastSeen = &seen
		ins.LastLocation = latest.EntryGate
		ins.VehicleType = latest.VehicleType
		ins.Color = latest.Color
	}
	ins.CommonEntryGate, _ = entries.Mode()
	ins.CommonExitGate, _ = exits.Mode()
	ins.CommonFlowPattern, _ = flows.Mode()
	return ins
}

type Segment struct {
	Type        string `json:"type"`
	Total       int    `json:"total"`
	Parked      int    `json:"parked"`
	Passed      int    `json:"passed"`
	AvgDuration int    `json:"avg_duration"`
}

// SegmentByVehicleType splits sessions per vehicle type. AvgDuration is the
// mean parked duration.
func SegmentByVehicleType(sessions []flow.VisitSession) []Segment {
	var (
		order  []string
		byType = make(map[string][]flow.VisitSession)
	)
	for _, s := range sessions {
		t := orUnknown(s.VehicleType)
		if _, ok := byType[t]; !ok {
			order = append(order, t)
		}
		byType[t] = append(byType[t], s)
	}

	out := make([]Segment, 0, len(order))
	for _, t := range order {
		seg := Segment{Type: t, Total: len(byType[t])}
		for _, s := range byType[t] {
			switch s.Status {
			case flow.StatusParked:
				seg.Parked++
			case flow.StatusPassedThrough:
				seg.Passed++
			}
		}
		seg.AvgDuration = AverageDuration(byType[t], func(s flow.VisitSession) bool {
			return s.Status == flow.StatusParked
		})
		out = append(out, seg)
	}
	return out
}

type RepeatVisitor struct {
	Identity     flow.VehicleIdentity `json:"plate"`
	SessionCount int                  `json:"session_count"`
}

// RepeatVisitors lists vehicles with at least minSessions visits, busiest first.
func RepeatVisitors(sessions []flow.VisitSession, minSessions int) ([]RepeatVisitor, error) {
	if minSessions < 1 {
		return nil, fmt.Errorf("%w: repeat visitor minimum must be at least 1, got %d", ErrInvalidArgument, minSessions)
	}

	counts := NewFrequency[flow.VehicleIdentity]()
	for _, s := range sessions {
		counts.Add(s.Identity)
	}

	out := []RepeatVisitor{}
	for _, e := range counts.Top(0) {
		if e.Count < minSessions {
			continue
		}
		out = append(out, RepeatVisitor{Identity: e.Value, SessionCount: e.Count})
	}
	return out, nil
}

type RankEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Rankings struct {
	TopParked        []RankEntry `json:"top_parked"`
	TopPassed        []RankEntry `json:"top_passed"`
	TopParkedByColor []RankEntry `json:"top_parked_by_color"`
	MostFrequent     []RankEntry `json:"most_frequent"`
}

// ComputeRankings ranks vehicles and colours. limit <= 0 uses
// DefaultRankingLimit.
func ComputeRankings(sessions []flow.VisitSession, limit int) Rankings {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	var (
		parked   = NewFrequency[string]()
		passed   = NewFrequency[string]()
		byColor  = NewFrequency[string]()
		frequent = NewFrequency[string]()
	)
	for _, s := range sessions {
		id := s.Identity.String()
		frequent.Add(id)
		switch s.Status {
		case flow.StatusParked:
			parked.Add(id)
			byColor.Add(orUnknown(s.Color))
		case flow.StatusPassedThrough:
			passed.Add(id)
		}
	}
	return Rankings{
		TopParked:        rankEntries(parked.Top(limit)),
		TopPassed:        rankEntries(passed.Top(limit)),
		TopParkedByColor: rankEntries(byColor.Top(limit)),
		MostFrequent:     rankEntries(frequent.Top(limit)),
	}
}

func rankEntries(entries []FrequencyEntry[string]) []RankEntry {
	out := make([]RankEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RankEntry{Key: e.Value, Count: e.Count})
	}
	return out
}

// SearchIdentities returns vehicles whose plate contains query, in the order
// they appear in sessions. Queries shorter than two characters match nothing.
func SearchIdentities(sessions []flow.VisitSession, query string, limit int) []flow.VehicleIdentity {
	q := utils.NormalizePlate(query)
	out := []flow.VehicleIdentity{}
	if len(q) < minSearchLength {
		return out
	}

	seen := make(map[flow.VehicleIdentity]bool)
	for _, s := range sessions {
		if seen[s.Identity] || !strings.Contains(utils.NormalizePlate(s.Identity.String()), q) {
			continue
		}
		seen[s.Identity] = true
		out = append(out, s.Identity)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// SortByDuration orders sessions longest first; open sessions count as zero.
func SortByDuration(sessions []flow.VisitSession) []flow.VisitSession {
	out := append([]flow.VisitSession(nil), sessions...)
	sort.SliceStable(out, func(i, j int) bool {
		return durationOf(out[i]) > durationOf(out[j])
	})
	return out
}

func durationOf(s flow.VisitSession) int {
	if s.DurationMinutes == nil {
		return 0
	}
	return *s.DurationMinutes
}
