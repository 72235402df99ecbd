package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rebalancer/internal/domain"
)

// ExecutionJob tracks one execution attempt.
type ExecutionJob struct {
	ID           string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID       string           `gorm:"column:user_id;size:128;not null;index" json:"user_id"`
	VaultAddress string           `gorm:"column:vault_address;size:64;not null" json:"vault_address"`
	Status       domain.JobStatus `gorm:"column:status;size:16;not null;index" json:"status"`
	StartedAt    time.Time        `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt  *time.Time       `gorm:"column:completed_at" json:"completed_at"`
	ErrorMessage string           `gorm:"column:error_message;type:text;default:''" json:"error_message"`
}

// TableName 指定表名
func (ExecutionJob) TableName() string {
	return "execution_jobs"
}

// BeforeCreate assigns a uuid when the caller did not.
func (j *ExecutionJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}
