package borgmon

import (
	"context"
	"time"
)

type API interface {
	Listen(ctx context.Context) error
}

type PrivateAPI interface {
	Listen(ctx context.Context) error
}

// SyncResult reports the outcome of a full event-log replay.
type SyncResult struct {
	Success              bool       `json:"success"`
	Message              string     `json:"message"`
	EventsProcessed      int        `json:"events_processed"`
	FinalStatus          Status     `json:"final_status,omitempty"`
	LastBackup           *time.Time `json:"last_backup,omitempty"`
	LastSuccessfulBackup *time.Time `json:"last_successful_backup,omitempty"`
}

type PrivateAPIClient interface {
	Sync(jobID string) (*SyncResult, error)
}
