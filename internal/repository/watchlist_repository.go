package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flow-analytics-service/internal/domain/flow"
)

type WatchlistRepository struct {
	db *gorm.DB
}

func NewWatchlistRepository(db *gorm.DB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

type WatchlistRecord struct {
	NormalizedPlate string `gorm:"primaryKey"`
	Note            *string
	CreatedBy       *string
	CreatedAt       time.Time
}

func (WatchlistRecord) TableName() string {
	return "watchlist"
}

// Add stores the vehicle. Adding a vehicle twice keeps the first entry.
func (r *WatchlistRepository) Add(ctx context.Context, entry flow.WatchlistEntry) (flow.WatchlistEntry, error) {
	rec := WatchlistRecord{
		NormalizedPlate: entry.Identity.String(),
		Note:            optional(entry.Note),
		CreatedBy:       optional(entry.CreatedBy),
		CreatedAt:       entry.CreatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return flow.WatchlistEntry{}, err
	}

	var stored WatchlistRecord
	if err := r.db.WithContext(ctx).First(&stored, "normalized_plate = ?", rec.NormalizedPlate).Error; err != nil {
		return flow.WatchlistEntry{}, err
	}
	return stored.toDomain(), nil
}

// Remove reports whether the vehicle was on the watchlist.
func (r *WatchlistRepository) Remove(ctx context.Context, identity flow.VehicleIdentity) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("normalized_plate = ?", identity.String()).
		Delete(&WatchlistRecord{})
	return res.RowsAffected > 0, res.Error
}

func (r *WatchlistRepository) Contains(ctx context.Context, identity flow.VehicleIdentity) (bool, error) {
	var rec WatchlistRecord
	err := r.db.WithContext(ctx).
		Select("normalized_plate").
		First(&rec, "normalized_plate = ?", identity.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the watchlist, most recently added first.
func (r *WatchlistRepository) List(ctx context.Context) ([]flow.WatchlistEntry, error) {
	var records []WatchlistRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("normalized_plate ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	entries := make([]flow.WatchlistEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rec.toDomain())
	}
	return entries, nil
}

func (rec WatchlistRecord) toDomain() flow.WatchlistEntry {
	e := flow.WatchlistEntry{
		Identity:  flow.VehicleIdentity(rec.NormalizedPlate),
		CreatedAt: rec.CreatedAt,
	}
	if rec.Note != nil {
		e.Note = *rec.Note
	}
	if rec.CreatedBy != nil {
		e.CreatedBy = *rec.CreatedBy
	}
	return e
}
