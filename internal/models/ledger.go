package models

import "time"

// LedgerEntry records one caught failure in the pipeline
type LedgerEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Task          string    `json:"task" gorm:"type:varchar(255);not null;index"`
	Success       bool      `json:"success"`
	MajorError    bool      `json:"major_error" gorm:"index"`
	Error         string    `json:"error" gorm:"type:text"`
	ExecutionDate time.Time `json:"execution_date" gorm:"index"`
}

// TableName specifies the table name for LedgerEntry
func (LedgerEntry) TableName() string {
	return "error_ledger"
}
