// Package worker drains the usage-job queue: at-least-once usage event
// ingestion from batch and offline sources, deduplicated by request id.
package worker

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// UsageJob is one queued usage event awaiting recording. The unique
// request id makes redelivered jobs collapse into one row.
type UsageJob struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	RequestID string         `gorm:"column:request_id;type:text;not null;uniqueIndex"`
	Payload   datatypes.JSON `gorm:"not null"`
	Status    JobStatus      `gorm:"type:text;not null;default:PENDING;index:idx_usage_jobs_ready,priority:1"`
	Attempts  int            `gorm:"not null;default:0"`
	LastError string         `gorm:"column:last_error;type:text"`
	NextRunAt time.Time      `gorm:"column:next_run_at;not null;index:idx_usage_jobs_ready,priority:2"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageJob) TableName() string { return "usage_jobs" }
