package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flow-analytics-service/internal/analytics"
	"flow-analytics-service/internal/config"
	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/metrics"
	"flow-analytics-service/internal/repository"
	"flow-analytics-service/internal/sessionize"
	"flow-analytics-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type EventStore interface {
	CreateEvent(ctx context.Context, event flow.DetectionEvent, rawPlate string, raw map[string]interface{}) error
	FindEvents(ctx context.Context, q repository.EventQuery) ([]flow.DetectionEvent, error)
	DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

type WatchlistStore interface {
	Add(ctx context.Context, entry flow.WatchlistEntry) (flow.WatchlistEntry, error)
	Remove(ctx context.Context, identity flow.VehicleIdentity) (bool, error)
	Contains(ctx context.Context, identity flow.VehicleIdentity) (bool, error)
	List(ctx context.Context) ([]flow.WatchlistEntry, error)
}

// FlowService rebuilds sessions and analytics from stored detections on every
// call. Nothing derived is cached between calls.
type FlowService struct {
	events    EventStore
	watchlist WatchlistStore
	cfg       config.AnalyticsConfig
	metrics   *metrics.Pipeline
	log       zerolog.Logger
	now       func() time.Time
}

func NewFlowService(
	events EventStore,
	watchlist WatchlistStore,
	cfg config.AnalyticsConfig,
	m *metrics.Pipeline,
	log zerolog.Logger,
) *FlowService {
	if m == nil {
		m = metrics.NewPipeline(nil)
	}
	return &FlowService{
		events:    events,
		watchlist: watchlist,
		cfg:       cfg,
		metrics:   m,
		log:       log.With().Str("component", "flow_service").Logger(),
		now:       time.Now,
	}
}

func (s *FlowService) location() *time.Location {
	if s.cfg.Location != nil {
		return s.cfg.Location
	}
	return time.UTC
}

func (s *FlowService) anomalyConfig() analytics.AnomalyConfig {
	return analytics.AnomalyConfig{
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		RapidReentryGap:     s.cfg.RapidReentryGap,
		MaxOpenAge:          s.cfg.MaxOpenSessionAge,
	}
}

func (s *FlowService) ProcessIncomingEvent(ctx context.Context, payload flow.EventPayload) (*flow.IngestResult, error) {
	if payload.Plate == "" {
		return nil, s.reject("missing_plate", fmt.Errorf("%w: plate is required", ErrInvalidInput))
	}
	if payload.CameraID == "" {
		return nil, s.reject("missing_camera", fmt.Errorf("%w: camera_id is required", ErrInvalidInput))
	}
	if strings.TrimSpace(payload.Location) == "" {
		return nil, s.reject("missing_location", fmt.Errorf("%w: location is required", ErrInvalidInput))
	}

	normalized := utils.NormalizePlate(payload.Plate)
	if normalized == "" {
		return nil, s.reject("empty_plate", fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput))
	}

	direction, ok := utils.ParseDirection(payload.Direction)
	if !ok {
		return nil, s.reject("bad_direction", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, payload.Direction))
	}

	confidence := flow.DefaultConfidence
	if payload.Confidence != nil {
		confidence = *payload.Confidence
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			return nil, s.reject("bad_confidence", fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidInput))
		}
	}

	eventTime := payload.EventTime
	if eventTime.IsZero() {
		eventTime = s.now()
	}

	location := utils.NormalizeLocation(payload.Location)
	event := flow.DetectionEvent{
		ID:          uuid.NewString(),
		Timestamp:   eventTime,
		Identity:    flow.VehicleIdentity(normalized),
		VehicleType: strings.TrimSpace(payload.Vehicle.Type),
		Color:       strings.TrimSpace(payload.Vehicle.Color),
		LocationID:  location,
		Direction:   direction,
		Confidence:  confidence,
		CameraID:    payload.CameraID,
		SnapshotURL: payload.SnapshotURL,
	}

	// Unknown locations are still stored so the analytics pass can report
	// them as data quality warnings.
	class, err := utils.ClassifyLocation(location)
	if err != nil {
		s.log.Warn().
			Str("plate", normalized).
			Str("location", location).
			Str("camera_id", payload.CameraID).
			Msg("storing event with unrecognized location")
	} else {
		event.LocationClass = class
	}

	if err := s.events.CreateEvent(ctx, event, payload.Plate, payload.RawPayload); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", normalized).
			Str("camera_id", payload.CameraID).
			Msg("failed to create detection event")
		return nil, fmt.Errorf("failed to create detection event: %w", err)
	}
	s.metrics.EventsIngested.WithLabelValues(classLabel(event.LocationClass)).Inc()

	s.log.Info().
		Str("event_id", event.ID).
		Str("plate", normalized).
		Str("raw_plate", payload.Plate).
		Str("location", location).
		Str("direction", string(direction)).
		Time("event_time", eventTime).
		Msg("saved detection event")

	watched, err := s.watchlist.Contains(ctx, event.Identity)
	if err != nil {
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to check watchlist")
		return nil, fmt.Errorf("failed to check watchlist: %w", err)
	}
	if watched {
		s.log.Info().
			Str("plate", normalized).
			Str("location", location).
			Msg("watchlisted vehicle detected")
	}

	return &flow.IngestResult{
		EventID:     event.ID,
		Plate:       event.Identity,
		Location:    location,
		Watchlisted: watched,
	}, nil
}

func (s *FlowService) reject(reason string, err error) error {
	s.metrics.EventsRejected.WithLabelValues(reason).Inc()
	return err
}

func classLabel(c flow.LocationClass) string {
	if c == "" {
		return "UNKNOWN"
	}
	return string(c)
}

// Snapshot is one sessionization pass over the events selected by a Query.
type Snapshot struct {
	Range  TimeRange
	Events []flow.DetectionEvent
	Result *sessionize.Result
	Alerts []flow.Alert
}

// Snapshot loads events and rebuilds sessions and alerts from them. The
// reference time is the end of the range, capped at now. Location and vehicle
// filters are applied after sessionization.
func (s *FlowService) Snapshot(ctx context.Context, q Query) (*Snapshot, error) {
	started := time.Now()

	from, to := q.Range.From, q.Range.To
	eq := repository.EventQuery{Plate: flow.VehicleIdentity(utils.NormalizePlate(q.Plate))}
	if !from.IsZero() {
		eq.From = &from
	}
	if !to.IsZero() {
		eq.To = &to
	}

	events, err := s.events.FindEvents(ctx, eq)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	ref := s.now()
	if !to.IsZero() && to.Before(ref) {
		ref = to
	}
	res, err := sessionize.Sessionize(events, sessionize.Options{
		Now:                  ref,
		MaxOpenAge:           s.cfg.MaxOpenSessionAge,
		AttributionTolerance: s.cfg.AttributionTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build sessions: %w", err)
	}

	alerts, err := analytics.DetectAnomalies(res.Sessions, events, res.Unresolved, s.anomalyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to detect anomalies: %w", err)
	}

	for _, w := range res.Warnings {
		s.log.Warn().
			Str("event_id", w.EventID).
			Str("plate", w.Identity.String()).
			Str("location", w.LocationID).
			Str("reason", w.Reason).
			Msg("event excluded from sessions")
	}
	s.metrics.ObserveRun(started, res.Sessions, len(res.Unresolved), len(res.OrphanExits), len(res.Warnings))
	s.metrics.ObserveAlerts(alerts)

	s.log.Debug().
		Int("events", len(events)).
		Int("sessions", len(res.Sessions)).
		Int("unresolved", len(res.Unresolved)).
		Int("orphan_exits", len(res.OrphanExits)).
		Int("alerts", len(alerts)).
		Dur("took", time.Since(started)).
		Msg("rebuilt sessions")

	snap := &Snapshot{Range: q.Range, Events: events, Result: res, Alerts: alerts}
	if q.scoped() {
		snap = snap.narrow(q)
	}
	return snap, nil
}

// narrow keeps the sessions that touched the query's location or carry its
// vehicle attributes, together with the events and alerts that belong to
// them. Statuses and alerts were already decided on the full event set.
func (snap *Snapshot) narrow(q Query) *Snapshot {
	out := &Snapshot{
		Range: snap.Range,
		Result: &sessionize.Result{
			Sessions:    []flow.VisitSession{},
			Unresolved:  []flow.DetectionEvent{},
			OrphanExits: []flow.DetectionEvent{},
			Warnings:    []flow.DataQualityWarning{},
		},
		Events: []flow.DetectionEvent{},
		Alerts: []flow.Alert{},
	}

	keptEvents := make(map[string]bool)
	for _, e := range snap.Events {
		if q.matchEvent(e) {
			out.Events = append(out.Events, e)
			keptEvents[e.ID] = true
		}
	}

	keptSessions := make(map[string]bool)
	for _, s := range snap.Result.Sessions {
		if q.matchSession(s) {
			out.Result.Sessions = append(out.Result.Sessions, s)
			keptSessions[s.ID] = true
		}
	}
	for _, e := range snap.Result.Unresolved {
		if keptEvents[e.ID] {
			out.Result.Unresolved = append(out.Result.Unresolved, e)
		}
	}
	for _, e := range snap.Result.OrphanExits {
		if keptEvents[e.ID] {
			out.Result.OrphanExits = append(out.Result.OrphanExits, e)
		}
	}
	for _, w := range snap.Result.Warnings {
		if keptEvents[w.EventID] {
			out.Result.Warnings = append(out.Result.Warnings, w)
		}
	}

	for _, a := range snap.Alerts {
		switch {
		case a.SessionID != "":
			if keptSessions[a.SessionID] {
				out.Alerts = append(out.Alerts, a)
			}
		case keptEvents[a.EventID]:
			out.Alerts = append(out.Alerts, a)
		}
	}
	return out
}

// CleanupOldEvents deletes events older than the given number of days.
func (s *FlowService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, fmt.Errorf("%w: retention days must be at least 1", ErrInvalidInput)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	deleted, err := s.events.DeleteOldEvents(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	s.metrics.EventsPurged.Add(float64(deleted))
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old events")
	}
	return deleted, nil
}
