package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flow-analytics-service/internal/domain/flow"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

type DetectionEventRecord struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	CameraID        string `gorm:"not null"`
	Location        string `gorm:"not null"`
	LocationClass   *string
	Direction       string `gorm:"not null"`
	RawPlate        string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null"`
	Confidence      *float64
	VehicleColor    *string
	VehicleType     *string
	SnapshotURL     *string
	EventTime       time.Time `gorm:"not null"`
	RawPayload      datatypes.JSON
	CreatedAt       time.Time
}

func (DetectionEventRecord) TableName() string {
	return "detection_events"
}

// EventQuery narrows FindEvents. Zero values do not filter. There is no
// location or attribute filter: visits are rebuilt from every event of a
// vehicle, so a partial load would pair the wrong detections.
type EventQuery struct {
	From  *time.Time
	To    *time.Time
	Plate flow.VehicleIdentity
}

func (r *EventRepository) CreateEvent(ctx context.Context, event flow.DetectionEvent, rawPlate string, raw map[string]interface{}) error {
	rec, err := newRecord(event, rawPlate, raw)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindEvents returns matching events oldest first.
func (r *EventRepository) FindEvents(ctx context.Context, q EventQuery) ([]flow.DetectionEvent, error) {
	query := r.db.WithContext(ctx).Model(&DetectionEventRecord{})

	if q.From != nil {
		query = query.Where("event_time >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("event_time <= ?", *q.To)
	}
	if q.Plate != "" {
		query = query.Where("normalized_plate = ?", q.Plate.String())
	}

	var records []DetectionEventRecord
	if err := query.Order("event_time ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	events := make([]flow.DetectionEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, rec.toDomain())
	}
	return events, nil
}

// DeleteOldEvents removes events older than cutoff and reports how many went.
func (r *EventRepository) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("event_time < ?", cutoff).
		Delete(&DetectionEventRecord{})
	return res.RowsAffected, res.Error
}

func newRecord(event flow.DetectionEvent, rawPlate string, raw map[string]interface{}) (*DetectionEventRecord, error) {
	confidence := event.Confidence
	rec := &DetectionEventRecord{
		ID:              event.ID,
		CameraID:        event.CameraID,
		Location:        event.LocationID,
		Direction:       string(event.Direction),
		RawPlate:        rawPlate,
		NormalizedPlate: event.Identity.String(),
		Confidence:      &confidence,
		VehicleColor:    optional(event.Color),
		VehicleType:     optional(event.VehicleType),
		SnapshotURL:     optional(event.SnapshotURL),
		EventTime:       event.Timestamp.UTC(),
	}
	if event.LocationClass != "" {
		class := string(event.LocationClass)
		rec.LocationClass = &class
	}
	if len(raw) > 0 {
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode raw payload: %w", err)
		}
		rec.RawPayload = datatypes.JSON(payload)
	}
	return rec, nil
}

func (rec DetectionEventRecord) toDomain() flow.DetectionEvent {
	e := flow.DetectionEvent{
		ID:         rec.ID,
		Timestamp:  rec.EventTime,
		Identity:   flow.VehicleIdentity(rec.NormalizedPlate),
		LocationID: rec.Location,
		Direction:  flow.Direction(rec.Direction),
		Confidence: flow.DefaultConfidence,
		CameraID:   rec.CameraID,
	}
	if rec.LocationClass != nil {
		e.LocationClass = flow.LocationClass(*rec.LocationClass)
	}
	if rec.Confidence != nil {
		e.Confidence = *rec.Confidence
	}
	if rec.VehicleColor != nil {
		e.Color = *rec.VehicleColor
	}
	if rec.VehicleType != nil {
		e.VehicleType = *rec.VehicleType
	}
	if rec.SnapshotURL != nil {
		e.SnapshotURL = *rec.SnapshotURL
	}
	return e
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
