package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-analytics-service/internal/domain/flow"
)

func TestVehicleInsight(t *testing.T) {
	latest := closedSession("s3", "ABC1234", flow.StatusPassedThrough, "SOUTH", "NORTH", clock(15, 0), clock(15, 5))
	latest.Color = "Blue"
	sessions := []flow.VisitSession{
		closedSession("s1", "ABC1234", flow.StatusParked, "NORTH", "NORTH", clock(8, 0), clock(9, 0)),
		closedSession("x1", "XYZ5678", flow.StatusParked, "SOUTH", "SOUTH", clock(8, 30), clock(9, 30)),
		latest,
		closedSession("s2", "ABC1234", flow.StatusParked, "NORTH", "SOUTH", clock(11, 0), clock(12, 0)),
		openSession("s4", "ABC1234", flow.StatusCurrentlyInside, "SOUTH", clock(13, 0)),
	}

	ins := VehicleInsight(sessions, "ABC1234")

	assert.Equal(t, flow.VehicleIdentity("ABC1234"), ins.Identity)
	assert.Equal(t, 4, ins.TotalSessions)
	assert.Equal(t, 2, ins.Parked)
	assert.Equal(t, 1, ins.Passed)
	assert.Equal(t, 50, ins.ParkedRatio)
	require.NotNil(t, ins.LastSeen)
	assert.Equal(t, clock(15, 0), *ins.LastSeen)
	assert.Equal(t, "SOUTH", ins.LastLocation)
	assert.Equal(t, "Blue", ins.Color)
	// NORTH and SOUTH tie on entries; NORTH was seen first.
	assert.Equal(t, "NORTH", ins.CommonEntryGate)
	assert.Equal(t, "NORTH", ins.CommonExitGate)
	assert.Equal(t, "N->N", ins.CommonFlowPattern)
	assert.Len(t, ins.Sessions, 4)
}

func TestVehicleInsight_Unknown(t *testing.T) {
	ins := VehicleInsight(nil, "NOPE")

	assert.Zero(t, ins.TotalSessions)
	assert.Zero(t, ins.ParkedRatio)
	assert.Nil(t, ins.LastSeen)
	assert.NotNil(t, ins.Sessions)
	assert.Empty(t, ins.CommonEntryGate)
}

func TestSegmentByVehicleType(t *testing.T) {
	truck := closedSession("t1", "TTT111", flow.StatusParked, "NORTH", "NORTH", clock(9, 0), clock(9, 40))
	truck.VehicleType = "Truck"
	untyped := openSession("u1", "UUU111", flow.StatusCurrentlyInside, "NORTH", clock(9, 0))
	untyped.VehicleType = ""
	sessions := []flow.VisitSession{
		closedSession("s1", "AAA111", flow.StatusParked, "NORTH", "NORTH", clock(9, 0), clock(10, 0)),
		truck,
		closedSession("s2", "BBB222", flow.StatusPassedThrough, "NORTH", "SOUTH", clock(9, 0), clock(9, 5)),
		untyped,
	}

	assert.Equal(t, []Segment{
		{Type: "Sedan", Total: 2, Parked: 1, Passed: 1, AvgDuration: 60},
		{Type: "Truck", Total: 1, Parked: 1, AvgDuration: 40},
		{Type: UnknownKey, Total: 1},
	}, SegmentByVehicleType(sessions))
}

func TestRepeatVisitors(t *testing.T) {
	var sessions []flow.VisitSession
	add := func(plate flow.VehicleIdentity, n int) {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s-%d", plate, i)
			sessions = append(sessions, closedSession(id, plate, flow.StatusPassedThrough, "NORTH", "SOUTH", clock(i, 0), clock(i, 5)))
		}
	}
	add("AAA111", 3)
	add("BBB222", 2)
	add("CCC333", 5)

	got, err := RepeatVisitors(sessions, DefaultRepeatVisitorMin)
	require.NoError(t, err)
	assert.Equal(t, []RepeatVisitor{
		{Identity: "CCC333", SessionCount: 5},
		{Identity: "AAA111", SessionCount: 3},
	}, got)

	got, err = RepeatVisitors(nil, 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = RepeatVisitors(sessions, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestComputeRankings(t *testing.T) {
	var sessions []flow.VisitSession
	for i := 0; i < 12; i++ {
		plate := flow.VehicleIdentity(fmt.Sprintf("P%02d", i))
		s := closedSession(fmt.Sprintf("s%d", i), plate, flow.StatusParked, "NORTH", "NORTH", clock(i, 0), clock(i, 30))
		if i%3 == 0 {
			s.Color = "White"
		}
		sessions = append(sessions, s)
	}
	sessions = append(sessions,
		closedSession("extra1", "P05", flow.StatusParked, "NORTH", "NORTH", clock(20, 0), clock(21, 0)),
		closedSession("extra2", "P07", flow.StatusPassedThrough, "NORTH", "SOUTH", clock(20, 0), clock(20, 5)),
	)

	r := ComputeRankings(sessions, 0)

	require.Len(t, r.TopParked, DefaultRankingLimit)
	assert.Equal(t, RankEntry{Key: "P05", Count: 2}, r.TopParked[0])
	assert.Equal(t, RankEntry{Key: "P00", Count: 1}, r.TopParked[1])
	assert.Equal(t, []RankEntry{{Key: "P07", Count: 1}}, r.TopPassed)
	assert.Equal(t, []RankEntry{
		{Key: "Red", Count: 9},
		{Key: "White", Count: 4},
	}, r.TopParkedByColor)
	require.Len(t, r.MostFrequent, DefaultRankingLimit)
	assert.Equal(t, "P05", r.MostFrequent[0].Key)
	assert.Equal(t, "P07", r.MostFrequent[1].Key)

	small := ComputeRankings(sessions, 3)
	assert.Len(t, small.TopParked, 3)
}

func TestSearchIdentities(t *testing.T) {
	sessions := []flow.VisitSession{
		openSession("s1", "ABC1234", flow.StatusCurrentlyInside, "NORTH", clock(9, 0)),
		openSession("s2", "XBC9999", flow.StatusCurrentlyInside, "NORTH", clock(9, 0)),
		openSession("s3", "ABC1234", flow.StatusCurrentlyInside, "NORTH", clock(10, 0)),
		openSession("s4", "QQQ0000", flow.StatusCurrentlyInside, "NORTH", clock(9, 0)),
	}

	assert.Equal(t, []flow.VehicleIdentity{"ABC1234", "XBC9999"}, SearchIdentities(sessions, "bc", 10))
	assert.Equal(t, []flow.VehicleIdentity{"ABC1234"}, SearchIdentities(sessions, "bc", 1))
	assert.Equal(t, []flow.VehicleIdentity{"ABC1234"}, SearchIdentities(sessions, "abc-12", 10))
	assert.Empty(t, SearchIdentities(sessions, "a", 10))
	assert.Empty(t, SearchIdentities(sessions, "zz", 10))
}

func TestSortByDuration(t *testing.T) {
	sessions := []flow.VisitSession{
		closedSession("short", "AAA111", flow.StatusPassedThrough, "NORTH", "SOUTH", clock(9, 0), clock(9, 5)),
		openSession("open", "BBB222", flow.StatusCurrentlyInside, "NORTH", clock(9, 0)),
		closedSession("long", "CCC333", flow.StatusParked, "NORTH", "NORTH", clock(9, 0), clock(12, 0)),
	}

	sorted := SortByDuration(sessions)

	ids := make([]string, 0, len(sorted))
	for _, s := range sorted {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"long", "short", "open"}, ids)
	assert.Equal(t, "short", sessions[0].ID)
}
