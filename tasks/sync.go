package tasks

import (
	"context"
	"fmt"
	"time"
	"webup/borgmon"
	"webup/borgmon/status"

	log "github.com/sirupsen/logrus"
)

// SyncJob replays a job's entire event log and reconciles the derived
// summary. It takes the job's lock, so it never runs concurrently with an
// append or another sync for the same job; syncs of different jobs proceed
// in parallel. The replay stops when ctx is cancelled (dropped connection).
func SyncJob(ctx context.Context, jobID string) (*borgmon.SyncResult, error) {
	job, ok := JobByID(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}

	lock := jobLock(job.ID)
	lock.Lock()
	defer lock.Unlock()

	events, err := storage.Events(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	existing, err := storage.Summary(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		fresh := borgmon.NewJobSummary(job.ID)
		existing = &fresh
	}

	summary, processed, err := status.Sync(ctx, *existing, events, job.MaxAge, time.Now())
	if err != nil {
		return nil, err
	}

	if err := storage.SaveSummary(ctx, summary); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"job":    job.ID,
		"events": processed,
		"status": summary.Status,
	}).Infoln("Job summary synced from event log")

	return &borgmon.SyncResult{
		Success:              true,
		Message:              fmt.Sprintf("Processed %d events", processed),
		EventsProcessed:      processed,
		FinalStatus:          summary.Status,
		LastBackup:           summary.LastBackup,
		LastSuccessfulBackup: summary.LastSuccessfulBackup,
	}, nil
}
