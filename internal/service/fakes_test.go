package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flow-analytics-service/internal/config"
	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/metrics"
	"flow-analytics-service/internal/repository"
)

type storedEvent struct {
	event    flow.DetectionEvent
	rawPlate string
	raw      map[string]interface{}
}

type fakeEventStore struct {
	mu      sync.Mutex
	events  []storedEvent
	failErr error
	cutoff  time.Time
}

func (f *fakeEventStore) CreateEvent(_ context.Context, e flow.DetectionEvent, rawPlate string, raw map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.events = append(f.events, storedEvent{event: e, rawPlate: rawPlate, raw: raw})
	return nil
}

func (f *fakeEventStore) FindEvents(_ context.Context, q repository.EventQuery) ([]flow.DetectionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := []flow.DetectionEvent{}
	for _, se := range f.events {
		e := se.event
		switch {
		case q.From != nil && e.Timestamp.Before(*q.From),
			q.To != nil && e.Timestamp.After(*q.To),
			q.Plate != "" && e.Identity != q.Plate:
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeEventStore) DeleteOldEvents(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	kept := f.events[:0]
	var deleted int64
	for _, se := range f.events {
		if se.event.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, se)
	}
	f.events = kept
	return deleted, nil
}

func (f *fakeEventStore) add(events ...flow.DetectionEvent) {
	for _, e := range events {
		f.events = append(f.events, storedEvent{event: e, rawPlate: e.Identity.String()})
	}
}

type fakeWatchlist struct {
	mu      sync.Mutex
	entries map[flow.VehicleIdentity]flow.WatchlistEntry
	failErr error
}

func newFakeWatchlist() *fakeWatchlist {
	return &fakeWatchlist{entries: make(map[flow.VehicleIdentity]flow.WatchlistEntry)}
}

func (f *fakeWatchlist) Add(_ context.Context, e flow.WatchlistEntry) (flow.WatchlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entries[e.Identity]; ok {
		return existing, nil
	}
	f.entries[e.Identity] = e
	return e, nil
}

func (f *fakeWatchlist) Remove(_ context.Context, id flow.VehicleIdentity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok, nil
}

func (f *fakeWatchlist) Contains(_ context.Context, id flow.VehicleIdentity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return false, f.failErr
	}
	_, ok := f.entries[id]
	return ok, nil
}

func (f *fakeWatchlist) List(_ context.Context) ([]flow.WatchlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]flow.WatchlistEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

var errStoreDown = errors.New("store down")

// fixedNow is 18:00 UTC on the fixture day.
var fixedNow = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		MaxOpenSessionAge:    24 * time.Hour,
		AttributionTolerance: 2 * time.Minute,
		ConfidenceThreshold:  0.75,
		RapidReentryGap:      10 * time.Minute,
		RepeatVisitorMin:     3,
		RankingLimit:         10,
		Timezone:             "UTC",
		DefaultRange:         RangeSevenDays,
		Location:             time.UTC,
	}
}

func newTestService() (*FlowService, *fakeEventStore, *fakeWatchlist) {
	events := &fakeEventStore{}
	watch := newFakeWatchlist()
	svc := NewFlowService(events, watch, testAnalyticsConfig(), metrics.NewPipeline(nil), zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, events, watch
}

func ev(id string, plate flow.VehicleIdentity, location string, dir flow.Direction, ts time.Time) flow.DetectionEvent {
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
		Confidence:    0.95,
		CameraID:      "cam-" + strings.ToLower(location),
	}
}

// seed stores a day with a parked visit, a pass-through, two quick visits of
// the same car, an open visit and a stray parking detection.
func seed(store *fakeEventStore) {
	store.add(
		ev("p-in", "RED001", "NORTH_GATE", flow.DirectionIn, at(9, 0)),
		ev("p-park", "RED001", "PARKING_1", flow.DirectionInternal, at(9, 10)),
		ev("p-out", "RED001", "NORTH_GATE", flow.DirectionOut, at(10, 30)),

		ev("t-in", "BLU002", "SOUTH_GATE", flow.DirectionIn, at(11, 0)),
		ev("t-out", "BLU002", "NORTH_GATE", flow.DirectionOut, at(11, 6)),

		ev("r1-in", "GRN003", "NORTH_GATE", flow.DirectionIn, at(12, 0)),
		ev("r1-out", "GRN003", "SOUTH_GATE", flow.DirectionOut, at(12, 10)),
		ev("r2-in", "GRN003", "SOUTH_GATE", flow.DirectionIn, at(12, 15)),
		ev("r2-out", "GRN003", "SOUTH_GATE", flow.DirectionOut, at(12, 40)),

		ev("o-in", "YLW004", "SOUTH_GATE", flow.DirectionIn, at(16, 0)),

		ev("lone", "UNK005", "PARKING_2", flow.DirectionInternal, at(14, 0)),
	)
}
