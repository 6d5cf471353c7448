package model

import "time"

type RunSetting struct {
	ID                  uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Email               string    `gorm:"column:email;type:text;not null;default:''"`
	Password            string    `gorm:"column:password;type:text;not null;default:''"`
	AutoRestart         bool      `gorm:"column:auto_restart;not null;default:true"`
	PollIntervalSeconds int       `gorm:"column:poll_interval_seconds;not null;default:300"`
	IsRunning           bool      `gorm:"column:is_running;not null;default:false"`
	CreatedAt           time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (RunSetting) TableName() string {
	return "run_settings"
}

type Run struct {
	RunID      string     `gorm:"column:run_id;type:text;primaryKey"`
	State      string     `gorm:"column:state;type:text;not null"`
	StartedAt  time.Time  `gorm:"column:started_at;not null;index"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Attempted  int        `gorm:"column:attempted;not null;default:0"`
	Processed  int        `gorm:"column:processed;not null;default:0"`
	Failed     int        `gorm:"column:failed;not null;default:0"`
	EarlyStop  bool       `gorm:"column:early_stop;not null;default:false"`
	Message    string     `gorm:"column:message;type:text;not null;default:''"`
}

func (Run) TableName() string {
	return "runs"
}

// All lists every table the store owns, in migration order.
func All() []any {
	return []any{&Listing{}, &ActionLog{}, &RunSetting{}, &Run{}}
}
