package flow

import (
	"time"
)

// VehicleIdentity is the key that ties detections of the same vehicle together.
// It holds the normalized licence plate; two identities are equal when their
// normalized plates are byte-equal.
type VehicleIdentity string

func (v VehicleIdentity) String() string {
	return string(v)
}

type LocationClass string

const (
	LocationBoundary LocationClass = "BOUNDARY"
	LocationInternal LocationClass = "INTERNAL"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
	// DirectionInternal marks parking-camera detections; it is not a crossing direction.
	DirectionInternal Direction = "INTERNAL"
)

type SessionStatus string

const (
	StatusParked          SessionStatus = "PARKED"
	StatusPassedThrough   SessionStatus = "PASSED_THROUGH"
	StatusCurrentlyInside SessionStatus = "CURRENTLY_INSIDE"
	StatusStaleInside     SessionStatus = "STALE_INSIDE"
)

// IsOpen reports whether the session has no known exit.
func (s SessionStatus) IsOpen() bool {
	return s == StatusCurrentlyInside || s == StatusStaleInside
}

// DefaultConfidence is assumed for detections that carry no score.
const DefaultConfidence = 1.0

type VehicleInfo struct {
	Color string `json:"color,omitempty"`
	Type  string `json:"type,omitempty"`
}

// EventPayload is the JSON body posted by gate and parking cameras.
type EventPayload struct {
	CameraID    string                 `json:"camera_id"`
	Plate       string                 `json:"plate"`
	Location    string                 `json:"location"`
	Direction   string                 `json:"direction"`
	Confidence  *float64               `json:"confidence,omitempty"`
	EventTime   time.Time              `json:"event_time"`
	Vehicle     VehicleInfo            `json:"vehicle"`
	SnapshotURL string                 `json:"snapshot_url,omitempty"`
	RawPayload  map[string]interface{} `json:"raw_payload,omitempty"`
}

// DetectionEvent is one observation from one camera at one instant.
// Values are treated as immutable once constructed.
type DetectionEvent struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Identity      VehicleIdentity `json:"plate"`
	VehicleType   string          `json:"vehicle_type,omitempty"`
	Color         string          `json:"color,omitempty"`
	LocationClass LocationClass   `json:"location_class"`
	LocationID    string          `json:"location"`
	Direction     Direction       `json:"direction"`
	Confidence    float64         `json:"confidence"`
	CameraID      string          `json:"camera_id,omitempty"`
	SnapshotURL   string          `json:"snapshot_url,omitempty"`
}

// VisitSession is a reconstructed visit of one vehicle.
type VisitSession struct {
	ID              string           `json:"id"`
	Identity        VehicleIdentity  `json:"plate"`
	VehicleType     string           `json:"vehicle_type,omitempty"`
	Color           string           `json:"color,omitempty"`
	EntryGate       string           `json:"entry_gate"`
	ExitGate        *string          `json:"exit_gate"`
	FlowPattern     *string          `json:"flow_pattern"`
	Status          SessionStatus    `json:"status"`
	EntryTime       time.Time        `json:"entry_time"`
	ExitTime        *time.Time       `json:"exit_time"`
	DurationMinutes *int             `json:"duration_minutes"`
	InternalEvents  []DetectionEvent `json:"internal_events"`
	Events          []DetectionEvent `json:"events"`
	Confidence      float64          `json:"confidence"`
	// SuppressedEntries holds repeated IN detections collapsed into this visit.
	SuppressedEntries []DetectionEvent `json:"suppressed_entries,omitempty"`
}

// HasExit reports whether an OUT event was paired with the session.
func (s VisitSession) HasExit() bool {
	return s.ExitTime != nil
}

// DataQualityWarning describes an event the sessionizer could not classify.
type DataQualityWarning struct {
	EventID    string          `json:"event_id"`
	Identity   VehicleIdentity `json:"plate"`
	LocationID string          `json:"location"`
	Reason     string          `json:"reason"`
}

type AlertType string

const (
	AlertLowConfidence   AlertType = "LOW_CONFIDENCE"
	AlertStaleInside     AlertType = "STALE_INSIDE"
	AlertUnlinkedParking AlertType = "UNLINKED_PARKING"
	AlertRapidReentry    AlertType = "RAPID_REENTRY"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is recomputed on every analytics pass and never persisted.
type Alert struct {
	ID          string          `json:"id"`
	Type        AlertType       `json:"type"`
	Severity    Severity        `json:"severity"`
	Identity    VehicleIdentity `json:"plate"`
	VehicleType string          `json:"vehicle_type,omitempty"`
	Color       string          `json:"color,omitempty"`
	Message     string          `json:"message"`
	Timestamp   time.Time       `json:"timestamp"`
	EventID     string          `json:"event_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
}

type IngestResult struct {
	EventID     string          `json:"event_id"`
	Plate       VehicleIdentity `json:"plate"`
	Location    string          `json:"location"`
	Watchlisted bool            `json:"watchlisted"`
}

// WatchlistEntry marks a vehicle an operator wants to follow.
type WatchlistEntry struct {
	Identity  VehicleIdentity `json:"plate"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
