package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"flow-analytics-service/internal/domain/flow"
)

const (
	DefaultConfidenceThreshold = 0.75
	DefaultRapidReentryGap     = 10 * time.Minute
	DefaultMaxOpenAge          = 24 * time.Hour
)

var alertNamespace = uuid.MustParse("0b9d4a57-6e1f-5c3a-8d2e-7f40a1c6b3e8")

type AnomalyConfig struct {
	// ConfidenceThreshold flags detections scoring strictly below it.
	ConfidenceThreshold float64
	// RapidReentryGap is the shortest exit-to-entry gap that is not flagged.
	RapidReentryGap time.Duration
	// MaxOpenAge only feeds the stale alert message.
	MaxOpenAge time.Duration
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RapidReentryGap:     DefaultRapidReentryGap,
		MaxOpenAge:          DefaultMaxOpenAge,
	}
}

func (c AnomalyConfig) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be within [0,1], got %v", ErrInvalidArgument, c.ConfidenceThreshold)
	}
	if c.RapidReentryGap <= 0 {
		return fmt.Errorf("%w: rapid re-entry gap must be positive, got %s", ErrInvalidArgument, c.RapidReentryGap)
	}
	if c.MaxOpenAge <= 0 {
		return fmt.Errorf("%w: max open age must be positive, got %s", ErrInvalidArgument, c.MaxOpenAge)
	}
	return nil
}

// DetectAnomalies runs the low-confidence, stale, unlinked-parking and
// rapid re-entry rules and returns their alerts newest first. Inputs are
// only read.
func DetectAnomalies(
	sessions []flow.VisitSession,
	events []flow.DetectionEvent,
	unresolved []flow.DetectionEvent,
	cfg AnomalyConfig,
) ([]flow.Alert, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	alerts := make([]flow.Alert, 0)
	alerts = append(alerts, lowConfidence(events, cfg.ConfidenceThreshold)...)
	alerts = append(alerts, staleInside(sessions, cfg.MaxOpenAge)...)
	alerts = append(alerts, unlinkedParking(unresolved)...)
	alerts = append(alerts, rapidReentry(sessions, cfg.RapidReentryGap)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts, nil
}

func lowConfidence(events []flow.DetectionEvent, threshold float64) []flow.Alert {
	var alerts []flow.Alert
	for _, e := range events {
		if e.Confidence >= threshold {
			continue
		}
		alerts = append(alerts, flow.Alert{
			ID:          alertID(flow.AlertLowConfidence, e.ID),
			Type:        flow.AlertLowConfidence,
			Severity:    flow.SeverityWarning,
			Identity:    e.Identity,
			VehicleType: e.VehicleType,
			Color:       e.Color,
			Message:     fmt.Sprintf("Low confidence detection (%.0f%%) at %s", e.Confidence*100, e.LocationID),
			Timestamp:   e.Timestamp,
			EventID:     e.ID,
		})
	}
	return alerts
}

func staleInside(sessions []flow.VisitSession, maxAge time.Duration) []flow.Alert {
	var alerts []flow.Alert
	for _, s := range sessions {
		if s.Status != flow.StatusStaleInside {
			continue
		}
		alerts = append(alerts, flow.Alert{
			ID:          alertID(flow.AlertStaleInside, s.ID),
			Type:        flow.AlertStaleInside,
			Severity:    flow.SeverityError,
			Identity:    s.Identity,
			VehicleType: s.VehicleType,
			Color:       s.Color,
			Message:     fmt.Sprintf("Vehicle exceeded max session duration (%s)", formatAge(maxAge)),
			Timestamp:   s.EntryTime,
			SessionID:   s.ID,
		})
	}
	return alerts
}

func unlinkedParking(unresolved []flow.DetectionEvent) []flow.Alert {
	var alerts []flow.Alert
	for _, e := range unresolved {
		alerts = append(alerts, flow.Alert{
			ID:          alertID(flow.AlertUnlinkedParking, e.ID),
			Type:        flow.AlertUnlinkedParking,
			Severity:    flow.SeverityWarning,
			Identity:    e.Identity,
			VehicleType: e.VehicleType,
			Color:       e.Color,
			Message:     fmt.Sprintf("Parking detection without active session at %s", e.LocationID),
			Timestamp:   e.Timestamp,
			EventID:     e.ID,
		})
	}
	return alerts
}

// rapidReentry compares consecutive completed visits of the same vehicle.
func rapidReentry(sessions []flow.VisitSession, gap time.Duration) []flow.Alert {
	var (
		order     []flow.VehicleIdentity
		completed = make(map[flow.VehicleIdentity][]flow.VisitSession)
	)
	for _, s := range sessions {
		if !s.HasExit() {
			continue
		}
		if _, ok := completed[s.Identity]; !ok {
			order = append(order, s.Identity)
		}
		completed[s.Identity] = append(completed[s.Identity], s)
	}

	var alerts []flow.Alert
	for _, identity := range order {
		visits := completed[identity]
		sort.SliceStable(visits, func(i, j int) bool {
			return visits[i].ExitTime.Before(*visits[j].ExitTime)
		})
		for i := 0; i+1 < len(visits); i++ {
			cur, next := visits[i], visits[i+1]
			diff := next.EntryTime.Sub(*cur.ExitTime)
			if diff >= gap {
				continue
			}
			alerts = append(alerts, flow.Alert{
				ID:          alertID(flow.AlertRapidReentry, next.ID),
				Type:        flow.AlertRapidReentry,
				Severity:    flow.SeverityInfo,
				Identity:    next.Identity,
				VehicleType: next.VehicleType,
				Color:       next.Color,
				Message:     fmt.Sprintf("Re-entered within %d minutes", int(math.Round(diff.Minutes()))),
				Timestamp:   next.EntryTime,
				SessionID:   next.ID,
			})
		}
	}
	return alerts
}

func alertID(t flow.AlertType, ref string) string {
	return uuid.NewSHA1(alertNamespace, []byte(string(t)+"|"+ref)).String()
}

func formatAge(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
