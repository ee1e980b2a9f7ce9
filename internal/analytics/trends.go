package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

var ErrInvalidArgument = errors.New("invalid argument")

type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Hourly, Daily:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown granularity %q", ErrInvalidArgument, s)
	}
}

// BucketKey truncates t to the start of its hour or day in loc. Keys sort
// lexicographically in time order.
func BucketKey(t time.Time, g Granularity, loc *time.Location) (key, label string) {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	if g == Hourly {
		start := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
		return start.Format("2006-01-02 15:04"), start.Format("15:04")
	}
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start.Format("2006-01-02"), start.Format("Jan 02")
}

type TrendRow struct {
	Time          string         `json:"time"`
	Label         string         `json:"label"`
	Entered       int            `json:"entered"`
	Parked        int            `json:"parked"`
	Passed        int            `json:"passed"`
	EntriesByGate map[string]int `json:"entries_by_gate"`
}

type DirectionCount struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

type GateTrendRow struct {
	Time  string                    `json:"time"`
	Label string                    `json:"label"`
	Gates map[string]DirectionCount `json:"gates"`
}

type ParkingTrendRow struct {
	Time     string         `json:"time"`
	Label    string         `json:"label"`
	Total    int            `json:"total"`
	ByCamera map[string]int `json:"by_camera"`
}

// SessionTrend buckets sessions by entry time.
func SessionTrend(sessions []flow.VisitSession, g Granularity, loc *time.Location) []TrendRow {
	rows := make(map[string]*TrendRow)
	for _, s := range sessions {
		key, label := BucketKey(s.EntryTime, g, loc)
		row, ok := rows[key]
		if !ok {
			row = &TrendRow{Time: key, Label: label, EntriesByGate: make(map[string]int)}
			rows[key] = row
		}
		row.Entered++
		switch s.Status {
		case flow.StatusParked:
			row.Parked++
		case flow.StatusPassedThrough:
			row.Passed++
		}
		row.EntriesByGate[s.EntryGate]++
	}

	out := make([]TrendRow, 0, len(rows))
	for _, key := range sortedKeys(rows) {
		out = append(out, *rows[key])
	}
	return out
}

// GateTrend counts IN and OUT crossings per gate and bucket.
func GateTrend(events []flow.DetectionEvent, g Granularity, loc *time.Location) []GateTrendRow {
	rows := make(map[string]*GateTrendRow)
	for _, e := range events {
		gate := utils.GateName(e.LocationID)
		if gate == "" || (e.Direction != flow.DirectionIn && e.Direction != flow.DirectionOut) {
			continue
		}
		key, label := BucketKey(e.Timestamp, g, loc)
		row, ok := rows[key]
		if !ok {
			row = &GateTrendRow{Time: key, Label: label, Gates: make(map[string]DirectionCount)}
			rows[key] = row
		}
		c := row.Gates[gate]
		if e.Direction == flow.DirectionIn {
			c.In++
		} else {
			c.Out++
		}
		row.Gates[gate] = c
	}

	out := make([]GateTrendRow, 0, len(rows))
	for _, key := range sortedKeys(rows) {
		out = append(out, *rows[key])
	}
	return out
}

// ParkingTrend counts parking-camera detections per camera and bucket.
func ParkingTrend(events []flow.DetectionEvent, g Granularity, loc *time.Location) []ParkingTrendRow {
	rows := make(map[string]*ParkingTrendRow)
	for _, e := range events {
		if !isParkingEvent(e) {
			continue
		}
		key, label := BucketKey(e.Timestamp, g, loc)
		row, ok := rows[key]
		if !ok {
			row = &ParkingTrendRow{Time: key, Label: label, ByCamera: make(map[string]int)}
			rows[key] = row
		}
		row.Total++
		row.ByCamera[utils.NormalizeLocation(e.LocationID)]++
	}

	out := make([]ParkingTrendRow, 0, len(rows))
	for _, key := range sortedKeys(rows) {
		out = append(out, *rows[key])
	}
	return out
}

func isParkingEvent(e flow.DetectionEvent) bool {
	class, err := utils.ClassifyLocation(e.LocationID)
	return err == nil && class == flow.LocationInternal
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
