package service

import (
	"context"
	"fmt"
	"strings"

	"flow-analytics-service/internal/analytics"
	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/utils"
)

const (
	dashboardAlertLimit = 20
	searchResultLimit   = 10
)

type DataQuality struct {
	Warnings    []flow.DataQualityWarning `json:"warnings"`
	Unresolved  int                       `json:"unresolved"`
	OrphanExits int                       `json:"orphan_exits"`
}

type Dashboard struct {
	Range            TimeRange                   `json:"range"`
	Granularity      analytics.Granularity       `json:"granularity"`
	KPIs             analytics.KPIs              `json:"kpis"`
	SessionTrend     []analytics.TrendRow        `json:"session_trend"`
	GateTrend        []analytics.GateTrendRow    `json:"gate_trend"`
	ParkingTrend     []analytics.ParkingTrendRow `json:"parking_trend"`
	GateLoad         []analytics.GateLoadRow     `json:"gate_load"`
	ParkingLoad      []analytics.CameraLoadRow   `json:"parking_load"`
	FlowDistribution []analytics.DimensionRow    `json:"flow_distribution"`
	VehicleTypes     []analytics.Segment         `json:"vehicle_types"`
	Alerts           []flow.Alert                `json:"alerts"`
	AlertCount       int                         `json:"alert_count"`
	DataQuality      DataQuality                 `json:"data_quality"`
}

// Dashboard builds the overview. An empty g picks the range's granularity.
func (s *FlowService) Dashboard(ctx context.Context, q Query, g analytics.Granularity) (*Dashboard, error) {
	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	if g == "" {
		g = q.Range.Granularity()
	}
	loc := s.location()
	sessions := snap.Result.Sessions

	alerts := snap.Alerts
	if len(alerts) > dashboardAlertLimit {
		alerts = alerts[:dashboardAlertLimit]
	}

	return &Dashboard{
		Range:            q.Range,
		Granularity:      g,
		KPIs:             analytics.ComputeKPIs(sessions, loc),
		SessionTrend:     analytics.SessionTrend(sessions, g, loc),
		GateTrend:        analytics.GateTrend(snap.Events, g, loc),
		ParkingTrend:     analytics.ParkingTrend(snap.Events, g, loc),
		GateLoad:         analytics.GateLoad(snap.Events),
		ParkingLoad:      analytics.ParkingLoad(snap.Events),
		FlowDistribution: analytics.FlowDistribution(sessions),
		VehicleTypes:     analytics.SegmentByVehicleType(sessions),
		Alerts:           alerts,
		AlertCount:       len(snap.Alerts),
		DataQuality: DataQuality{
			Warnings:    snap.Result.Warnings,
			Unresolved:  len(snap.Result.Unresolved),
			OrphanExits: len(snap.Result.OrphanExits),
		},
	}, nil
}

type Insights struct {
	Range          TimeRange                                        `json:"range"`
	VehicleTypes   []analytics.Segment                              `json:"vehicle_types"`
	RepeatVisitors []analytics.RepeatVisitor                        `json:"repeat_visitors"`
	Rankings       analytics.Rankings                               `json:"rankings"`
	GatePeakHours  []analytics.GatePeak                             `json:"gate_peak_hours"`
	Rollups        map[analytics.Dimension][]analytics.DimensionRow `json:"rollups"`
}

var insightDimensions = []analytics.Dimension{
	analytics.DimensionEntryGate,
	analytics.DimensionExitGate,
	analytics.DimensionVehicleType,
	analytics.DimensionFlowPattern,
	analytics.DimensionColor,
}

func (s *FlowService) Insights(ctx context.Context, q Query) (*Insights, error) {
	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	sessions := snap.Result.Sessions

	repeat, err := analytics.RepeatVisitors(sessions, s.cfg.RepeatVisitorMin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	rollups := make(map[analytics.Dimension][]analytics.DimensionRow, len(insightDimensions))
	for _, dim := range insightDimensions {
		rows, err := analytics.Rollup(sessions, dim)
		if err != nil {
			return nil, err
		}
		rollups[dim] = analytics.TopN(rows, s.cfg.RankingLimit)
	}

	return &Insights{
		Range:          q.Range,
		VehicleTypes:   analytics.SegmentByVehicleType(sessions),
		RepeatVisitors: repeat,
		Rankings:       analytics.ComputeRankings(sessions, s.cfg.RankingLimit),
		GatePeakHours:  analytics.GatePeakHours(snap.Events, s.location()),
		Rollups:        rollups,
	}, nil
}

type SessionPage struct {
	Sessions   []flow.VisitSession `json:"sessions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	TotalPages int                 `json:"total_pages"`
	Facets     Facets              `json:"facets"`
}

func (s *FlowService) Sessions(ctx context.Context, q Query, f SessionFilter, p Page) (*SessionPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}

	p = p.normalize()
	filtered := f.apply(snap.Result.Sessions)
	return &SessionPage{
		Sessions:   paginate(filtered, p),
		Total:      len(filtered),
		Page:       p.Number,
		PageSize:   p.Size,
		TotalPages: totalPages(len(filtered), p.Size),
		Facets:     sessionFacets(snap.Result.Sessions),
	}, nil
}

// Alerts lists the alerts of the range, optionally restricted to one type.
func (s *FlowService) Alerts(ctx context.Context, q Query, alertType flow.AlertType) ([]flow.Alert, error) {
	switch alertType {
	case "", flow.AlertLowConfidence, flow.AlertStaleInside, flow.AlertUnlinkedParking, flow.AlertRapidReentry:
	default:
		return nil, fmt.Errorf("%w: unknown alert type %q", ErrInvalidInput, alertType)
	}

	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	if alertType == "" {
		return snap.Alerts, nil
	}
	out := []flow.Alert{}
	for _, a := range snap.Alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out, nil
}

type VehicleDetail struct {
	analytics.Insight
	Alerts      []flow.Alert          `json:"alerts"`
	Unresolved  []flow.DetectionEvent `json:"unresolved"`
	Watchlisted bool                  `json:"watchlisted"`
}

// VehicleInsight is the investigation view for one plate.
func (s *FlowService) VehicleInsight(ctx context.Context, q Query, plate string) (*VehicleDetail, error) {
	identity := flow.VehicleIdentity(utils.NormalizePlate(plate))
	if identity == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty", ErrInvalidInput)
	}
	q.Plate = identity.String()

	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(snap.Events) == 0 {
		return nil, fmt.Errorf("%w: no detections for plate %s", ErrNotFound, identity)
	}

	watched, err := s.watchlist.Contains(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to check watchlist: %w", err)
	}

	return &VehicleDetail{
		Insight:     analytics.VehicleInsight(snap.Result.Sessions, identity),
		Alerts:      snap.Alerts,
		Unresolved:  snap.Result.Unresolved,
		Watchlisted: watched,
	}, nil
}

// SearchVehicles finds plates containing the query and summarises each.
func (s *FlowService) SearchVehicles(ctx context.Context, q Query, search string) ([]analytics.Insight, error) {
	search = strings.TrimSpace(search)
	if len(utils.NormalizePlate(search)) < 2 {
		return nil, fmt.Errorf("%w: search needs at least 2 plate characters", ErrInvalidInput)
	}

	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	sessions := snap.Result.Sessions

	out := []analytics.Insight{}
	for _, identity := range analytics.SearchIdentities(sessions, search, searchResultLimit) {
		out = append(out, analytics.VehicleInsight(sessions, identity))
	}
	return out, nil
}

func (s *FlowService) AddToWatchlist(ctx context.Context, plate, note, createdBy string) (flow.WatchlistEntry, error) {
	identity := flow.VehicleIdentity(utils.NormalizePlate(plate))
	if identity == "" {
		return flow.WatchlistEntry{}, fmt.Errorf("%w: plate cannot be empty", ErrInvalidInput)
	}
	entry, err := s.watchlist.Add(ctx, flow.WatchlistEntry{
		Identity:  identity,
		Note:      strings.TrimSpace(note),
		CreatedBy: createdBy,
		CreatedAt: s.now(),
	})
	if err != nil {
		return flow.WatchlistEntry{}, fmt.Errorf("failed to add to watchlist: %w", err)
	}
	s.log.Info().Str("plate", identity.String()).Str("by", createdBy).Msg("added to watchlist")
	return entry, nil
}

func (s *FlowService) RemoveFromWatchlist(ctx context.Context, plate string) error {
	identity := flow.VehicleIdentity(utils.NormalizePlate(plate))
	if identity == "" {
		return fmt.Errorf("%w: plate cannot be empty", ErrInvalidInput)
	}
	removed, err := s.watchlist.Remove(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: %s is not on the watchlist", ErrNotFound, identity)
	}
	s.log.Info().Str("plate", identity.String()).Msg("removed from watchlist")
	return nil
}

func (s *FlowService) Watchlist(ctx context.Context) ([]flow.WatchlistEntry, error) {
	entries, err := s.watchlist.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}

type WatchlistItem struct {
	flow.WatchlistEntry
	Insight    analytics.Insight `json:"insight"`
	AlertCount int               `json:"alert_count"`
}

// WatchlistOverview summarises every watched vehicle over the range.
func (s *FlowService) WatchlistOverview(ctx context.Context, q Query) ([]WatchlistItem, error) {
	entries, err := s.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []WatchlistItem{}, nil
	}

	snap, err := s.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	alertsByPlate := make(map[flow.VehicleIdentity]int)
	for _, a := range snap.Alerts {
		alertsByPlate[a.Identity]++
	}

	out := make([]WatchlistItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, WatchlistItem{
			WatchlistEntry: e,
			Insight:        analytics.VehicleInsight(snap.Result.Sessions, e.Identity),
			AlertCount:     alertsByPlate[e.Identity],
		})
	}
	return out, nil
}
