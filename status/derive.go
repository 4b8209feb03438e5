// Package status derives a job's backup status from its event log.
// The summary it produces is a recomputable cache; the log stays the
// source of truth.
package status

import (
	"context"
	"time"
	"webup/borgmon"

	log "github.com/sirupsen/logrus"
)

// Apply folds a single appended event into the summary. This is the
// incremental recompute path: O(1) relative to the log length, using the
// session pointers cached on the summary.
//
// Unclassifiable events leave the derived fields unchanged.
func Apply(summary *borgmon.JobSummary, event borgmon.Event) {
	if !borgmon.KnownEventType(event.Type) {
		log.WithFields(log.Fields{
			"job":  summary.JobID,
			"id":   event.ID,
			"type": event.Type,
		}).Warnln("Ignoring event with unknown type")
		return
	}

	ts := event.Timestamp
	summary.LastEventTime = &ts

	switch event.Type {
	case borgmon.EventStart:
		summary.LastStartID = event.ID
		summary.LastStartTime = &ts
		summary.LastBackup = &ts
		summary.Status = borgmon.StatusRunning

	case borgmon.EventSuccess:
		summary.LastTerminalID = event.ID
		summary.LastTerminalTime = &ts
		summary.LastSuccessfulBackup = &ts
		if event.WarningFlagged() {
			summary.Status = borgmon.StatusWarning
		} else {
			summary.Status = borgmon.StatusSuccess
		}

	case borgmon.EventFailed:
		summary.LastTerminalID = event.ID
		summary.LastTerminalTime = &ts
		summary.Status = borgmon.StatusFailed

	case borgmon.EventStop, borgmon.EventLog, borgmon.EventInfo:
		// non-fatal activity never changes a settled status
	}

	// without any start event, the most recent event stands in for lastBackup
	if summary.LastStartTime == nil {
		summary.LastBackup = &ts
	}

	summary.UpdatedAt = time.Now()
}

// Sync replays the entire event log from the beginning, rebuilding the
// derived fields and session pointers from scratch. It is the authoritative
// reconciliation path when the incremental state is suspected stale.
//
// The archive registry rollups carried by the existing summary are
// preserved: they come from metadata pushes, not from the log. Every event
// counts toward processed, including the ones derivation cannot classify.
// The replay stops early when ctx is cancelled.
func Sync(ctx context.Context, existing borgmon.JobSummary, events []borgmon.Event, maxAge time.Duration, now time.Time) (borgmon.JobSummary, int, error) {
	summary := borgmon.NewJobSummary(existing.JobID)
	summary.ArchiveCount = existing.ArchiveCount
	summary.TotalSize = existing.TotalSize
	summary.TotalCompressedSize = existing.TotalCompressedSize
	summary.UniqueSize = existing.UniqueSize

	processed := 0
	for _, event := range events {
		select {
		case <-ctx.Done():
			return summary, processed, ctx.Err()
		default:
		}

		Apply(&summary, event)
		processed++
	}

	// an open session older than the schedule expectation means the client
	// stopped reporting; demote it rather than pretending it still runs
	if summary.Status == borgmon.StatusRunning && maxAge > 0 && summary.LastStartTime != nil {
		if now.Sub(*summary.LastStartTime) > maxAge {
			summary.Status = borgmon.StatusUnknown
		}
	}

	summary.UpdatedAt = time.Now()
	return summary, processed, nil
}
