package model

import "time"

type Listing struct {
	ID                 uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ItemID             string    `gorm:"column:item_id;type:text;uniqueIndex;not null"`
	URL                string    `gorm:"column:url;type:text;not null;default:''"`
	Title              string    `gorm:"column:title;type:text;not null;default:''"`
	Price              string    `gorm:"column:price;type:text;not null;default:''"`
	Category           string    `gorm:"column:category;type:text;not null;default:''"`
	Status             string    `gorm:"column:status;type:text;index;not null;default:'pending'"`
	IsPublic           bool      `gorm:"column:is_public;not null;default:false"`
	IsVisible          bool      `gorm:"column:is_visible;not null;default:false"`
	Confidence         float64   `gorm:"column:confidence;not null;default:0"`
	Views              int       `gorm:"column:views;not null;default:0"`
	Messages           int       `gorm:"column:messages;not null;default:0"`
	ProcessingStrategy string    `gorm:"column:processing_strategy;type:text;not null;default:''"`
	CreatedAt          time.Time `gorm:"column:created_at;not null;index"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null"`
}

func (Listing) TableName() string {
	return "listings"
}
