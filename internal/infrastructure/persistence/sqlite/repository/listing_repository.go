package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/persistence/sqlite/model"
	"marketbot/internal/ports"
)

type ListingRepository struct {
	base
	now func() time.Time
}

var _ ports.ListingRepository = (*ListingRepository)(nil)

func NewListingRepository(db *gorm.DB) *ListingRepository {
	return &ListingRepository{
		base: base{db: db},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// UpsertListing inserts an unseen item as pending, otherwise merges the
// non-empty descriptive fields. Status and created_at are never touched.
func (r *ListingRepository) UpsertListing(ctx context.Context, input ports.ListingUpsert) (uint64, error) {
	itemID := strings.TrimSpace(input.ItemID)
	if itemID == "" {
		return 0, listing.ErrItemIDRequired
	}

	var id uint64
	err := r.inTx(ctx, func(_ context.Context, db *gorm.DB) error {
		now := r.now()
		row := model.Listing{
			ItemID:    itemID,
			URL:       input.URL,
			Title:     input.Title,
			Price:     input.Price,
			Category:  input.Category,
			Status:    string(listing.StatusPending),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if input.Confidence != nil {
			row.Confidence = *input.Confidence
		}

		updates := map[string]any{"updated_at": now}
		for column, value := range map[string]string{
			"url":      input.URL,
			"title":    input.Title,
			"price":    input.Price,
			"category": input.Category,
		} {
			if strings.TrimSpace(value) != "" {
				updates[column] = value
			}
		}
		if input.Confidence != nil {
			updates["confidence"] = *input.Confidence
		}

		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.Assignments(updates),
		}).Create(&row).Error; err != nil {
			return errs.Wrap(err, "upsert listing")
		}

		var stored model.Listing
		if err := db.Select("id").Where("item_id = ?", itemID).Take(&stored).Error; err != nil {
			return errs.Wrap(err, "read upserted listing id")
		}
		id = stored.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ListingRepository) GetListing(ctx context.Context, itemID string) (listing.Listing, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return listing.Listing{}, err
	}

	var row model.Listing
	if err := db.Where("item_id = ?", strings.TrimSpace(itemID)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return listing.Listing{}, ports.ErrListingNotFound
		}
		return listing.Listing{}, errs.Wrap(err, "query listing")
	}
	return mapListing(row), nil
}

func (r *ListingRepository) GetPending(ctx context.Context) ([]listing.Listing, error) {
	return r.ListListings(ctx, ports.ListingFilter{Status: listing.StatusPending})
}

// ListListings orders newest first; ties on created_at fall back to id.
func (r *ListingRepository) ListListings(ctx context.Context, filter ports.ListingFilter) ([]listing.Listing, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Listing{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.Listing
	if err := query.Order("created_at desc").Order("id desc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query listings")
	}

	items := make([]listing.Listing, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapListing(row))
	}
	return items, nil
}

func (r *ListingRepository) UpdateStatus(ctx context.Context, itemID string, resolution listing.Resolution) error {
	if _, err := listing.ParseStatus(string(resolution.Status)); err != nil {
		return err
	}

	return r.inTx(ctx, func(_ context.Context, db *gorm.DB) error {
		result := db.Model(&model.Listing{}).
			Where("item_id = ?", strings.TrimSpace(itemID)).
			Updates(map[string]any{
				"status":              string(resolution.Status),
				"is_public":           resolution.IsPublic,
				"is_visible":          resolution.IsVisible,
				"processing_strategy": resolution.Strategy,
				"updated_at":          r.now(),
			})
		if result.Error != nil {
			return errs.Wrap(result.Error, "update listing status")
		}
		if result.RowsAffected == 0 {
			return ports.ErrListingNotFound
		}
		return nil
	})
}

func (r *ListingRepository) ComputeStats(ctx context.Context) (listing.Stats, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return listing.Stats{}, err
	}

	var stats listing.Stats
	counts := []struct {
		target *int64
		where  string
		args   []any
	}{
		{target: &stats.Total},
		{target: &stats.Public, where: "is_public = ?", args: []any{true}},
		{target: &stats.Visible, where: "is_visible = ?", args: []any{true}},
		{target: &stats.Pending, where: "status = ?", args: []any{string(listing.StatusPending)}},
		{target: &stats.Processed, where: "status = ?", args: []any{string(listing.StatusProcessed)}},
		{target: &stats.Failed, where: "status = ?", args: []any{string(listing.StatusFailed)}},
	}
	for _, count := range counts {
		query := db.Model(&model.Listing{})
		if count.where != "" {
			query = query.Where(count.where, count.args...)
		}
		if err := query.Count(count.target).Error; err != nil {
			return listing.Stats{}, errs.Wrap(err, "count listings")
		}
	}

	stats.Success = listing.SuccessRate(stats.Public, stats.Total)
	return stats, nil
}

func mapListing(row model.Listing) listing.Listing {
	return listing.Listing{
		ID:                 row.ID,
		ItemID:             row.ItemID,
		URL:                row.URL,
		Title:              row.Title,
		Price:              row.Price,
		Category:           row.Category,
		Status:             listing.Status(row.Status),
		IsPublic:           row.IsPublic,
		IsVisible:          row.IsVisible,
		Confidence:         row.Confidence,
		Views:              row.Views,
		Messages:           row.Messages,
		ProcessingStrategy: row.ProcessingStrategy,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}
