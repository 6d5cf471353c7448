package model

import "time"

type ActionLog struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string    `gorm:"column:run_id;type:text;index;not null;default:''"`
	ListingRef *uint64   `gorm:"column:listing_ref;index"`
	Action     string    `gorm:"column:action;type:text;not null"`
	Outcome    string    `gorm:"column:outcome;type:text;not null"`
	Message    string    `gorm:"column:message;type:text;not null;default:''"`
	Timestamp  time.Time `gorm:"column:timestamp;not null"`
}

func (ActionLog) TableName() string {
	return "action_log"
}
