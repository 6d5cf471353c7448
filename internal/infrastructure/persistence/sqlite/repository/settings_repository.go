package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/persistence/sqlite/model"
	"marketbot/internal/ports"
)

type SettingsRepository struct {
	base
}

var _ ports.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{base: base{db: db}}
}

// SaveSettings appends a row; the newest row is the effective one.
func (r *SettingsRepository) SaveSettings(ctx context.Context, settings listing.RunSettings) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	interval := settings.PollIntervalSeconds
	if interval <= 0 {
		interval = int(listing.DefaultPollInterval.Seconds())
	}
	row := model.RunSetting{
		Email:               settings.Email,
		Password:            settings.Password,
		AutoRestart:         settings.AutoRestart,
		PollIntervalSeconds: interval,
	}
	// gorm skips zero-valued fields that carry a default tag on insert.
	if err := db.Select("*").Omit("id").Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert run settings")
	}
	return nil
}

func (r *SettingsRepository) LatestSettings(ctx context.Context) (listing.RunSettings, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return listing.RunSettings{}, err
	}

	row, err := latestSettingsRow(db)
	if err != nil {
		return listing.RunSettings{}, err
	}
	return listing.RunSettings{
		Email:               row.Email,
		Password:            row.Password,
		AutoRestart:         row.AutoRestart,
		PollIntervalSeconds: row.PollIntervalSeconds,
	}, nil
}

func (r *SettingsRepository) SetRunning(ctx context.Context, running bool) error {
	return r.inTx(ctx, func(_ context.Context, db *gorm.DB) error {
		row, err := latestSettingsRow(db)
		if errors.Is(err, ports.ErrSettingsMissing) {
			defaults := model.RunSetting{
				AutoRestart:         true,
				PollIntervalSeconds: int(listing.DefaultPollInterval.Seconds()),
				IsRunning:           running,
			}
			if err := db.Select("*").Omit("id").Create(&defaults).Error; err != nil {
				return errs.Wrap(err, "insert default run settings")
			}
			return nil
		}
		if err != nil {
			return err
		}

		if err := db.Model(&model.RunSetting{}).
			Where("id = ?", row.ID).
			Update("is_running", running).Error; err != nil {
			return errs.Wrap(err, "update is_running")
		}
		return nil
	})
}

func latestSettingsRow(db *gorm.DB) (model.RunSetting, error) {
	var row model.RunSetting
	result := db.Order("id desc").Limit(1).Find(&row)
	if result.Error != nil {
		return model.RunSetting{}, errs.Wrap(result.Error, "query run settings")
	}
	if result.RowsAffected == 0 {
		return model.RunSetting{}, ports.ErrSettingsMissing
	}
	return row, nil
}
