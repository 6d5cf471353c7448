package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/persistence/sqlite/model"
	"marketbot/internal/ports"
)

type ActionLogRepository struct {
	base
}

var _ ports.ActionLogRepository = (*ActionLogRepository)(nil)

func NewActionLogRepository(db *gorm.DB) *ActionLogRepository {
	return &ActionLogRepository{base: base{db: db}}
}

func (r *ActionLogRepository) AppendLog(ctx context.Context, entry listing.ActionLogEntry) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	row := model.ActionLog{
		RunID:      entry.RunID,
		ListingRef: entry.ListingRef,
		Action:     entry.Action,
		Outcome:    string(entry.Outcome),
		Message:    entry.Message,
		Timestamp:  ts,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert action log")
	}
	return nil
}

// ListLogs returns entries newest first.
func (r *ActionLogRepository) ListLogs(ctx context.Context, filter ports.ActionLogFilter) ([]listing.ActionLogEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.ActionLog{})
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		query = query.Where("run_id = ?", runID)
	}
	if itemID := strings.TrimSpace(filter.ItemID); itemID != "" {
		sub := db.Model(&model.Listing{}).Select("id").Where("item_id = ?", itemID)
		query = query.Where("listing_ref IN (?)", sub)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.ActionLog
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query action log")
	}

	items := make([]listing.ActionLogEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, listing.ActionLogEntry{
			ID:         row.ID,
			RunID:      row.RunID,
			ListingRef: row.ListingRef,
			Action:     row.Action,
			Outcome:    listing.Outcome(row.Outcome),
			Message:    row.Message,
			Timestamp:  row.Timestamp,
		})
	}
	return items, nil
}
