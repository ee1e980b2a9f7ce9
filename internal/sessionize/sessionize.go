// Package sessionize rebuilds vehicle visits from gate and parking detections.
package sessionize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

const (
	DefaultMaxOpenAge           = 24 * time.Hour
	DefaultAttributionTolerance = 2 * time.Minute
)

var ErrInvalidOptions = errors.New("invalid sessionize options")

// sessionNamespace seeds the name-based session ids so that the same IN event
// always yields the same session id.
var sessionNamespace = uuid.MustParse("6f1c3b8e-4a52-5d0e-9b7a-2c1d8e5f3a90")

type Options struct {
	// Now is the reference instant for open-session age and the open
	// attribution window.
	Now time.Time
	// MaxOpenAge is how long a visit may stay open before it is stale.
	MaxOpenAge time.Duration
	// AttributionTolerance widens the parking attribution window on both ends.
	AttributionTolerance time.Duration
}

func DefaultOptions(now time.Time) Options {
	return Options{
		Now:                  now,
		MaxOpenAge:           DefaultMaxOpenAge,
		AttributionTolerance: DefaultAttributionTolerance,
	}
}

func (o Options) Validate() error {
	if o.Now.IsZero() {
		return fmt.Errorf("%w: reference time is required", ErrInvalidOptions)
	}
	if o.MaxOpenAge <= 0 {
		return fmt.Errorf("%w: max open age must be positive, got %s", ErrInvalidOptions, o.MaxOpenAge)
	}
	if o.AttributionTolerance < 0 {
		return fmt.Errorf("%w: attribution tolerance must not be negative, got %s", ErrInvalidOptions, o.AttributionTolerance)
	}
	return nil
}

type Result struct {
	Sessions []flow.VisitSession `json:"sessions"`

	// Unresolved holds parking detections outside every visit window.
	Unresolved []flow.DetectionEvent `json:"unresolved"`

	// OrphanExits holds OUT detections that no IN could be paired with.
	OrphanExits []flow.DetectionEvent `json:"orphan_exits"`

	Warnings []flow.DataQualityWarning `json:"warnings"`
}

// Sessionize groups events per vehicle and pairs each IN with the earliest
// unconsumed OUT after it. Input order does not matter and the input slice is
// not modified.
func Sessionize(events []flow.DetectionEvent, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	groups, warnings := partition(sortEvents(events))

	res := &Result{
		Sessions:    []flow.VisitSession{},
		Unresolved:  []flow.DetectionEvent{},
		OrphanExits: []flow.DetectionEvent{},
		Warnings:    warnings,
	}
	for _, g := range groups {
		p := planGroup(g, opts)
		res.Sessions = append(res.Sessions, g.materialize(p)...)
		for _, idx := range p.unresolved {
			res.Unresolved = append(res.Unresolved, g.internal[idx])
		}
		for _, idx := range p.orphanExits {
			res.OrphanExits = append(res.OrphanExits, g.outs[idx])
		}
	}

	sort.SliceStable(res.Sessions, func(i, j int) bool {
		a, b := res.Sessions[i], res.Sessions[j]
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.After(b.EntryTime)
		}
		if a.Identity != b.Identity {
			return a.Identity < b.Identity
		}
		return a.ID < b.ID
	})

	return res, nil
}

func sortEvents(events []flow.DetectionEvent) []flow.DetectionEvent {
	sorted := make([]flow.DetectionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// group holds one vehicle's events, each slice in chronological order.
type group struct {
	identity flow.VehicleIdentity
	ins      []flow.DetectionEvent
	outs     []flow.DetectionEvent
	internal []flow.DetectionEvent
}

// partition splits sorted events into per-identity groups in order of first
// appearance. Events with unusable locations are reported, not grouped.
func partition(sorted []flow.DetectionEvent) ([]*group, []flow.DataQualityWarning) {
	var (
		groups   []*group
		byID     = make(map[flow.VehicleIdentity]*group)
		warnings = []flow.DataQualityWarning{}
	)
	for _, e := range sorted {
		class, reason := classify(e)
		if reason != "" {
			warnings = append(warnings, flow.DataQualityWarning{
				EventID:    e.ID,
				Identity:   e.Identity,
				LocationID: e.LocationID,
				Reason:     reason,
			})
			continue
		}

		g, ok := byID[e.Identity]
		if !ok {
			g = &group{identity: e.Identity}
			byID[e.Identity] = g
			groups = append(groups, g)
		}

		switch {
		case class == flow.LocationInternal:
			g.internal = append(g.internal, e)
		case e.Direction == flow.DirectionIn:
			g.ins = append(g.ins, e)
		default:
			g.outs = append(g.outs, e)
		}
	}
	return groups, warnings
}

// classify returns the event's location class, or a non-empty reason when the
// event cannot take part in sessionization.
func classify(e flow.DetectionEvent) (flow.LocationClass, string) {
	class, err := utils.ClassifyLocation(e.LocationID)
	if err != nil {
		return "", fmt.Sprintf("unrecognized location identifier %q", e.LocationID)
	}
	if e.LocationClass != "" && e.LocationClass != class {
		return "", fmt.Sprintf("location class %s does not match location %q", e.LocationClass, e.LocationID)
	}
	switch class {
	case flow.LocationBoundary:
		if e.Direction != flow.DirectionIn && e.Direction != flow.DirectionOut {
			return "", fmt.Sprintf("gate detection with direction %q", e.Direction)
		}
	case flow.LocationInternal:
		if e.Direction != flow.DirectionInternal && e.Direction != "" {
			return "", fmt.Sprintf("parking detection with direction %q", e.Direction)
		}
	}
	return class, ""
}

// visitPlan references a group's events by index.
type visitPlan struct {
	in         int
	out        int // -1 when the visit is still open
	internal   []int
	suppressed []int
	stale      bool
}

type groupPlan struct {
	visits      []visitPlan
	unresolved  []int
	orphanExits []int
}

// planGroup decides every pairing of one group before any session is built.
func planGroup(g *group, opts Options) groupPlan {
	var (
		plan         groupPlan
		usedIn       = make([]bool, len(g.ins))
		usedOut      = make([]bool, len(g.outs))
		usedInternal = make([]bool, len(g.internal))
	)

	for i, in := range g.ins {
		if usedIn[i] {
			continue
		}
		usedIn[i] = true
		v := visitPlan{in: i, out: -1}

		for j, out := range g.outs {
			if !usedOut[j] && out.Timestamp.After(in.Timestamp) {
				v.out = j
				usedOut[j] = true
				break
			}
		}

		windowEnd := opts.Now
		if v.out >= 0 {
			windowEnd = g.outs[v.out].Timestamp
		} else {
			v.stale = opts.Now.Sub(in.Timestamp) > opts.MaxOpenAge
		}
		start := in.Timestamp.Add(-opts.AttributionTolerance)
		end := windowEnd.Add(opts.AttributionTolerance)
		for k, p := range g.internal {
			if usedInternal[k] || p.Timestamp.Before(start) || p.Timestamp.After(end) {
				continue
			}
			usedInternal[k] = true
			v.internal = append(v.internal, k)
		}

		// Repeated IN triggers inside the visit collapse into it. This can hide
		// a real re-entry when the matching exit was never detected.
		for k := i + 1; k < len(g.ins); k++ {
			t := g.ins[k].Timestamp
			if usedIn[k] || !t.After(in.Timestamp) {
				continue
			}
			if v.out >= 0 && !t.Before(g.outs[v.out].Timestamp) {
				continue
			}
			usedIn[k] = true
			v.suppressed = append(v.suppressed, k)
		}

		plan.visits = append(plan.visits, v)
	}

	for k := range g.internal {
		if !usedInternal[k] {
			plan.unresolved = append(plan.unresolved, k)
		}
	}
	for j := range g.outs {
		if !usedOut[j] {
			plan.orphanExits = append(plan.orphanExits, j)
		}
	}
	return plan
}

func (g *group) materialize(p groupPlan) []flow.VisitSession {
	sessions := make([]flow.VisitSession, 0, len(p.visits))
	for _, v := range p.visits {
		in := g.ins[v.in]

		internal := make([]flow.DetectionEvent, 0, len(v.internal))
		for _, k := range v.internal {
			internal = append(internal, g.internal[k])
		}

		s := flow.VisitSession{
			ID:             sessionID(in),
			Identity:       g.identity,
			VehicleType:    in.VehicleType,
			Color:          in.Color,
			EntryGate:      utils.GateName(in.LocationID),
			EntryTime:      in.Timestamp,
			InternalEvents: internal,
			Confidence:     in.Confidence,
		}

		s.Events = make([]flow.DetectionEvent, 0, len(internal)+2)
		s.Events = append(s.Events, in)
		s.Events = append(s.Events, internal...)

		if v.out >= 0 {
			out := g.outs[v.out]
			exitGate := utils.GateName(out.LocationID)
			pattern := utils.FlowPattern(s.EntryGate, exitGate)
			exitTime := out.Timestamp
			duration := int(math.Round(exitTime.Sub(in.Timestamp).Minutes()))

			s.ExitGate = &exitGate
			s.FlowPattern = &pattern
			s.ExitTime = &exitTime
			s.DurationMinutes = &duration
			s.Confidence = math.Min(s.Confidence, out.Confidence)
			s.Events = append(s.Events, out)
		}

		for _, k := range v.suppressed {
			s.SuppressedEntries = append(s.SuppressedEntries, g.ins[k])
		}

		s.Status = status(v.out >= 0, len(internal) > 0, v.stale)
		sessions = append(sessions, s)
	}
	return sessions
}

func status(hasExit, hasInternal, stale bool) flow.SessionStatus {
	switch {
	case hasExit && hasInternal:
		return flow.StatusParked
	case hasExit:
		return flow.StatusPassedThrough
	case stale:
		return flow.StatusStaleInside
	default:
		return flow.StatusCurrentlyInside
	}
}

func sessionID(in flow.DetectionEvent) string {
	return uuid.NewSHA1(sessionNamespace, []byte(in.ID)).String()
}
