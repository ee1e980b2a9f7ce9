package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/sessionize"
)

func detect(t *testing.T, sessions []flow.VisitSession, events, unresolved []flow.DetectionEvent) []flow.Alert {
	t.Helper()
	alerts, err := DetectAnomalies(sessions, events, unresolved, DefaultAnomalyConfig())
	require.NoError(t, err)
	return alerts
}

func TestDetectAnomalies_EmptyInput(t *testing.T) {
	alerts := detect(t, nil, nil, nil)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestDetectAnomalies_RapidReentry(t *testing.T) {
	tests := []struct {
		name      string
		gap       time.Duration
		wantCount int
	}{
		{name: "nine minute gap", gap: 9 * time.Minute, wantCount: 1},
		{name: "eleven minute gap", gap: 11 * time.Minute, wantCount: 0},
		{name: "exactly the threshold", gap: 10 * time.Minute, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			firstExit := clock(9, 30)
			secondEntry := firstExit.Add(tt.gap)
			sessions := []flow.VisitSession{
				closedSession("s2", "ABC1234", flow.StatusPassedThrough, "NORTH", "SOUTH", secondEntry, secondEntry.Add(20*time.Minute)),
				closedSession("s1", "ABC1234", flow.StatusParked, "NORTH", "NORTH", clock(9, 0), firstExit),
			}

			alerts := detect(t, sessions, nil, nil)

			require.Len(t, alerts, tt.wantCount)
			if tt.wantCount == 1 {
				a := alerts[0]
				assert.Equal(t, flow.AlertRapidReentry, a.Type)
				assert.Equal(t, flow.SeverityInfo, a.Severity)
				assert.Equal(t, "s2", a.SessionID)
				assert.Equal(t, secondEntry, a.Timestamp)
				assert.Equal(t, "Re-entered within 9 minutes", a.Message)
			}
		})
	}
}

func TestDetectAnomalies_RapidReentryScope(t *testing.T) {
	sessions := []flow.VisitSession{
		closedSession("a1", "AAA111", flow.StatusPassedThrough, "NORTH", "SOUTH", clock(9, 0), clock(9, 10)),
		// Different vehicle entering right after: not a re-entry.
		closedSession("b1", "BBB222", flow.StatusPassedThrough, "NORTH", "SOUTH", clock(9, 12), clock(9, 20)),
		// Same vehicle, but the second visit is still open.
		openSession("a2", "AAA111", flow.StatusCurrentlyInside, "NORTH", clock(9, 13)),
	}

	alerts := detect(t, sessions, nil, nil)

	assert.Empty(t, alerts)
}

func TestDetectAnomalies_LowConfidence(t *testing.T) {
	events := []flow.DetectionEvent{
		detection("e1", "ABC1234", "PARKING_2", flow.DirectionInternal, clock(9, 0), 0.62),
		detection("e2", "ABC1234", "NORTH_GATE", flow.DirectionIn, clock(8, 0), 0.75),
		detection("e3", "XYZ5678", "SOUTH_GATE", flow.DirectionOut, clock(10, 0), 0.5),
	}

	alerts := detect(t, nil, events, nil)

	require.Len(t, alerts, 2)
	assert.Equal(t, "e3", alerts[0].EventID)
	assert.Equal(t, "Low confidence detection (50%) at SOUTH_GATE", alerts[0].Message)
	assert.Equal(t, "e1", alerts[1].EventID)
	assert.Equal(t, "Low confidence detection (62%) at PARKING_2", alerts[1].Message)
	for _, a := range alerts {
		assert.Equal(t, flow.AlertLowConfidence, a.Type)
		assert.Equal(t, flow.SeverityWarning, a.Severity)
	}
}

func TestDetectAnomalies_StaleInside(t *testing.T) {
	sessions := []flow.VisitSession{
		openSession("stale", "ABC1234", flow.StatusStaleInside, "NORTH", clock(1, 0)),
		openSession("fresh", "XYZ5678", flow.StatusCurrentlyInside, "NORTH", clock(2, 0)),
	}

	alerts := detect(t, sessions, nil, nil)

	require.Len(t, alerts, 1)
	assert.Equal(t, flow.AlertStaleInside, alerts[0].Type)
	assert.Equal(t, flow.SeverityError, alerts[0].Severity)
	assert.Equal(t, "stale", alerts[0].SessionID)
	assert.Equal(t, clock(1, 0), alerts[0].Timestamp)
	assert.Equal(t, "Vehicle exceeded max session duration (24h)", alerts[0].Message)
}

func TestDetectAnomalies_UnlinkedParkingScenario(t *testing.T) {
	events := []flow.DetectionEvent{
		detection("p1", "UNK4821", "PARKING_1", flow.DirectionInternal, clock(14, 0), 0.9),
	}
	res, err := sessionize.Sessionize(events, sessionize.DefaultOptions(clock(15, 0)))
	require.NoError(t, err)
	require.Len(t, res.Unresolved, 1)

	alerts := detect(t, res.Sessions, events, res.Unresolved)

	require.Len(t, alerts, 1)
	assert.Equal(t, flow.AlertUnlinkedParking, alerts[0].Type)
	assert.Equal(t, flow.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "p1", alerts[0].EventID)
	assert.Equal(t, flow.VehicleIdentity("UNK4821"), alerts[0].Identity)
}

func TestDetectAnomalies_SortedNewestFirstAndStable(t *testing.T) {
	sessions := []flow.VisitSession{
		openSession("stale", "ABC1234", flow.StatusStaleInside, "NORTH", clock(3, 0)),
		closedSession("x1", "XYZ5678", flow.StatusPassedThrough, "SOUTH", "SOUTH", clock(5, 0), clock(5, 10)),
		closedSession("x2", "XYZ5678", flow.StatusPassedThrough, "SOUTH", "SOUTH", clock(5, 15), clock(5, 20)),
	}
	events := []flow.DetectionEvent{
		detection("low", "ABC1234", "NORTH_GATE", flow.DirectionIn, clock(3, 0), 0.4),
	}
	unresolved := []flow.DetectionEvent{
		detection("lone", "QQQ999", "PARKING_3", flow.DirectionInternal, clock(4, 0), 1),
	}

	first := detect(t, sessions, events, unresolved)
	second := detect(t, sessions, events, unresolved)

	require.Len(t, first, 4)
	assert.Equal(t, flow.AlertRapidReentry, first[0].Type)
	assert.Equal(t, flow.AlertUnlinkedParking, first[1].Type)
	// Same timestamp: rule order decides.
	assert.Equal(t, flow.AlertLowConfidence, first[2].Type)
	assert.Equal(t, flow.AlertStaleInside, first[3].Type)

	ids := make(map[string]bool)
	for i, a := range first {
		assert.Equal(t, a.ID, second[i].ID)
		assert.False(t, ids[a.ID])
		ids[a.ID] = true
	}

	// Inputs keep their order.
	assert.Equal(t, "stale", sessions[0].ID)
	assert.Equal(t, "x1", sessions[1].ID)
}

func TestAnomalyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AnomalyConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AnomalyConfig) {}},
		{name: "zero threshold", mutate: func(c *AnomalyConfig) { c.ConfidenceThreshold = 0 }},
		{name: "negative threshold", mutate: func(c *AnomalyConfig) { c.ConfidenceThreshold = -0.1 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *AnomalyConfig) { c.ConfidenceThreshold = 1.5 }, wantErr: true},
		{name: "zero gap", mutate: func(c *AnomalyConfig) { c.RapidReentryGap = 0 }, wantErr: true},
		{name: "zero max age", mutate: func(c *AnomalyConfig) { c.MaxOpenAge = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnomalyConfig()
			tt.mutate(&cfg)
			_, err := DetectAnomalies(nil, nil, nil, cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			assert.NoError(t, err)
		})
	}
}
