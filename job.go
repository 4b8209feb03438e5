package borgmon

import (
	"time"
)

// Status is the derived backup status of a job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusRunning Status = "running"
	StatusUnknown Status = "unknown"
	StatusNoData  Status = "no-data"
)

// AllStatuses lists every backup status, in dashboard display order.
var AllStatuses = []Status{StatusSuccess, StatusWarning, StatusFailed, StatusRunning, StatusUnknown, StatusNoData}

// ScheduleStatus indicates whether a job is keeping up with its configured schedule.
type ScheduleStatus string

const (
	ScheduleOnTime  ScheduleStatus = "on-time"
	ScheduleOverdue ScheduleStatus = "overdue"
	ScheduleUnknown ScheduleStatus = "unknown"
)

// AllScheduleStatuses lists every schedule status.
var AllScheduleStatuses = []ScheduleStatus{ScheduleOnTime, ScheduleOverdue, ScheduleUnknown}

// Job is a monitored backup target, declared by a spec file.
// The derived fields (Status, LastBackup, ...) are a cache maintained by
// the derivation engine; the event log is the source of truth.
type Job struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	BackupType  string
	MaxAge      time.Duration // 0 means no schedule expectation configured
	MaxAgeSpec  string        // the raw max_age string, for display
	APIKeys     []string
}

// JobSummary holds the derived fields for a job, plus the cached session
// pointers that make incremental derivation O(1) relative to log length.
type JobSummary struct {
	JobID                string     `json:"job_id"`
	Status               Status     `json:"status"`
	LastBackup           *time.Time `json:"last_backup,omitempty"`
	LastSuccessfulBackup *time.Time `json:"last_successful_backup,omitempty"`

	// session pointers
	LastStartID      uint64     `json:"last_start_id,omitempty"`
	LastStartTime    *time.Time `json:"last_start_time,omitempty"`
	LastTerminalID   uint64     `json:"last_terminal_id,omitempty"`
	LastTerminalTime *time.Time `json:"last_terminal_time,omitempty"`
	LastEventTime    *time.Time `json:"last_event_time,omitempty"`

	// archive registry rollups
	ArchiveCount        int   `json:"archive_count"`
	TotalSize           int64 `json:"total_size"`
	TotalCompressedSize int64 `json:"total_compressed_size"`
	UniqueSize          int64 `json:"unique_size"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobSummary returns the summary of a job that never received any data.
func NewJobSummary(jobID string) JobSummary {
	return JobSummary{JobID: jobID, Status: StatusNoData}
}

// ScheduleStatusAt computes the schedule status of the job at a given
// instant. It is evaluated at read time so that an idle job goes overdue
// without waiting for a push.
func (j Job) ScheduleStatusAt(now time.Time, lastBackup *time.Time) ScheduleStatus {
	if j.MaxAge <= 0 || lastBackup == nil {
		return ScheduleUnknown
	}
	if now.Sub(*lastBackup) > j.MaxAge {
		return ScheduleOverdue
	}
	return ScheduleOnTime
}

// CompressionRatio returns the compression efficiency as a percentage,
// computed from the repository rollups.
func (s JobSummary) CompressionRatio() float64 {
	if s.TotalSize <= 0 || s.TotalCompressedSize <= 0 {
		return 0
	}
	return (1 - float64(s.TotalCompressedSize)/float64(s.TotalSize)) * 100
}
