package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"flow-analytics-service/internal/analytics"
	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

const (
	RangeToday      = "today"
	RangeSevenDays  = "7days"
	RangeThirtyDays = "30days"
	RangeCustom     = "custom"

	DefaultPageSize = 15
	MaxPageSize     = 100

	SortRecent   = "recent"
	SortDuration = "duration"
)

type TimeRange struct {
	Preset string    `json:"preset"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Granularity is hourly for a single day and daily otherwise.
func (r TimeRange) Granularity() analytics.Granularity {
	if r.Preset == RangeToday || r.To.Sub(r.From) <= 24*time.Hour {
		return analytics.Hourly
	}
	return analytics.Daily
}

// ResolveRange turns a preset or an explicit RFC3339 from/to pair into a
// concrete range. Explicit bounds win over the preset; a missing "to" means
// now.
func (s *FlowService) ResolveRange(preset, from, to string) (TimeRange, error) {
	now := s.now()
	loc := s.location()

	if from != "" || to != "" {
		r := TimeRange{Preset: RangeCustom, To: now}
		if from == "" {
			return TimeRange{}, fmt.Errorf("%w: from is required with to", ErrInvalidInput)
		}
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		r.From = t
		if to != "" {
			t, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return TimeRange{}, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
			}
			r.To = t
		}
		if r.To.Before(r.From) {
			return TimeRange{}, fmt.Errorf("%w: to is before from", ErrInvalidInput)
		}
		return r, nil
	}

	if preset == "" {
		preset = s.cfg.DefaultRange
	}
	var days int
	switch preset {
	case RangeToday:
		days = 0
	case RangeSevenDays:
		days = 7
	case RangeThirtyDays:
		days = 30
	default:
		return TimeRange{}, fmt.Errorf("%w: unknown range %q", ErrInvalidInput, preset)
	}
	return TimeRange{Preset: preset, From: startOfDay(now.AddDate(0, 0, -days), loc), To: now}, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// Query selects what an analytics view covers. Range and Plate bound the
// events that are sessionized; Location, VehicleType and Color only narrow the
// resulting sessions, events and alerts.
type Query struct {
	Range       TimeRange
	Plate       string
	VehicleType string
	Location    string
	Color       string
}

func (q Query) scoped() bool {
	return strings.TrimSpace(q.Location) != "" || q.VehicleType != "" || q.Color != ""
}

func (q Query) matchAttributes(vehicleType, color string) bool {
	if q.VehicleType != "" && !strings.EqualFold(vehicleType, q.VehicleType) {
		return false
	}
	return q.Color == "" || strings.EqualFold(color, q.Color)
}

func (q Query) matchEvent(e flow.DetectionEvent) bool {
	if loc := utils.NormalizeLocation(q.Location); loc != "" && utils.NormalizeLocation(e.LocationID) != loc {
		return false
	}
	return q.matchAttributes(e.VehicleType, e.Color)
}

// matchSession checks the location against every detection of the visit and
// the vehicle attributes against the visit itself.
func (q Query) matchSession(s flow.VisitSession) bool {
	if !q.matchAttributes(s.VehicleType, s.Color) {
		return false
	}
	loc := utils.NormalizeLocation(q.Location)
	if loc == "" {
		return true
	}
	for _, e := range s.Events {
		if utils.NormalizeLocation(e.LocationID) == loc {
			return true
		}
	}
	return false
}

// SessionFilter mirrors the session table controls. Empty fields match
// everything.
type SessionFilter struct {
	Search      string
	Status      flow.SessionStatus
	EntryGate   string
	FlowPattern string
	VehicleType string
	Color       string
	Sort        string
}

func (f SessionFilter) Validate() error {
	switch f.Status {
	case "", flow.StatusParked, flow.StatusPassedThrough, flow.StatusCurrentlyInside, flow.StatusStaleInside:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	switch f.Sort {
	case "", SortRecent, SortDuration:
	default:
		return fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, f.Sort)
	}
	return nil
}

func (f SessionFilter) match(s flow.VisitSession) bool {
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		plate := utils.NormalizePlate(f.Search)
		hit := (plate != "" && strings.Contains(s.Identity.String(), plate)) ||
			strings.Contains(strings.ToLower(s.VehicleType), q) ||
			strings.Contains(strings.ToLower(s.Color), q)
		if !hit {
			return false
		}
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.EntryGate != "" && !strings.EqualFold(s.EntryGate, f.EntryGate) {
		return false
	}
	if f.FlowPattern != "" && (s.FlowPattern == nil || *s.FlowPattern != f.FlowPattern) {
		return false
	}
	if f.VehicleType != "" && !strings.EqualFold(s.VehicleType, f.VehicleType) {
		return false
	}
	if f.Color != "" && !strings.EqualFold(s.Color, f.Color) {
		return false
	}
	return true
}

// apply filters and orders sessions. "recent" keeps the sessionizer order,
// which is newest entry first.
func (f SessionFilter) apply(sessions []flow.VisitSession) []flow.VisitSession {
	out := make([]flow.VisitSession, 0, len(sessions))
	for _, s := range sessions {
		if f.match(s) {
			out = append(out, s)
		}
	}
	if f.Sort == SortDuration {
		out = analytics.SortByDuration(out)
	}
	return out
}

// Page is 1-based.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func paginate[T any](items []T, p Page) []T {
	start := (p.Number - 1) * p.Size
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func totalPages(total, size int) int {
	if total == 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Facets lists the distinct values present, for filter dropdowns.
type Facets struct {
	Gates        []string `json:"gates"`
	FlowPatterns []string `json:"flow_patterns"`
	VehicleTypes []string `json:"vehicle_types"`
	Colors       []string `json:"colors"`
}

func sessionFacets(sessions []flow.VisitSession) Facets {
	gates := map[string]bool{}
	flows := map[string]bool{}
	types := map[string]bool{}
	colors := map[string]bool{}
	for _, s := range sessions {
		if s.EntryGate != "" {
			gates[s.EntryGate] = true
		}
		if s.FlowPattern != nil {
			flows[*s.FlowPattern] = true
		}
		if s.VehicleType != "" {
			types[s.VehicleType] = true
		}
		if s.Color != "" {
			colors[s.Color] = true
		}
	}
	return Facets{
		Gates:        keys(gates),
		FlowPatterns: keys(flows),
		VehicleTypes: keys(types),
		Colors:       keys(colors),
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
