package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"webup/borgmon"
	"webup/borgmon/bolt"
)

// JobStatsView is the humanized stats block of a job payload.
type JobStatsView struct {
	ArchiveCount     int    `json:"archiveCount"`
	FullSize         string `json:"fullSize"`
	CompressedSize   string `json:"compressedSize"`
	DeduplicatedSize string `json:"deduplicatedSize"`
	CompressionRatio string `json:"compressionRatio"`
}

// JobView is the dashboard payload for one job.
type JobView struct {
	JobID                        string                 `json:"jobId"`
	Name                         string                 `json:"name"`
	Status                       borgmon.Status         `json:"status"`
	ScheduleStatus               borgmon.ScheduleStatus `json:"scheduleStatus"`
	LastBackup                   *time.Time             `json:"lastBackup"`
	LastBackupRelative           string                 `json:"lastBackupRelative,omitempty"`
	LastSuccessfulBackup         *time.Time             `json:"lastSuccessfulBackup"`
	LastSuccessfulBackupRelative string                 `json:"lastSuccessfulBackupRelative,omitempty"`
	Tags                         []string               `json:"tags"`
	Stats                        JobStatsView           `json:"stats"`

	// detail-only fields
	Description string `json:"description,omitempty"`
	BackupType  string `json:"backupType,omitempty"`
	MaxAge      string `json:"maxAge,omitempty"`
}

// EventView is the dashboard payload for one event.
type EventView struct {
	ID                uint64            `json:"id"`
	Type              borgmon.EventType `json:"type"`
	Timestamp         time.Time         `json:"timestamp"`
	TimestampRelative string            `json:"timestampRelative,omitempty"`
	Message           string            `json:"message"`
	HasInfo           bool              `json:"hasInfo"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// ArchiveView is the dashboard payload for one archive.
type ArchiveView struct {
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"createdAt"`
	OriginalSize     string    `json:"originalSize"`
	CompressedSize   string    `json:"compressedSize"`
	DeduplicatedSize string    `json:"deduplicatedSize"`
}

// ListJobsQuery filters and orders the job list.
type ListJobsQuery struct {
	Search  string
	Tags    []string
	SortBy  string // name, lastBackup, status
	SortDir string // asc, desc
}

// ListJobs returns the filtered, sorted job summaries.
func ListJobs(ctx context.Context, query ListJobsQuery) ([]JobView, error) {
	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := []JobView{}
	for _, job := range Jobs() {
		if !matchesFilter(job, query.Tags, query.Search) {
			continue
		}
		summary, err := storage.Summary(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, jobView(job, summary, now, false))
	}

	sortJobViews(views, query.SortBy, query.SortDir)
	return views, nil
}

// GetJob returns a single job with detail fields.
func GetJob(ctx context.Context, jobID string) (*JobView, error) {
	job, ok := JobByID(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := storage.Summary(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	view := jobView(job, summary, time.Now(), true)
	return &view, nil
}

// ListArchives returns a sorted page of a job's archive registry.
func ListArchives(ctx context.Context, jobID string, query borgmon.ArchiveQuery) (*borgmon.Page[ArchiveView], error) {
	if _, ok := JobByID(jobID); !ok {
		return nil, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}
	page, err := storage.Archives(ctx, jobID, query)
	if err != nil {
		return nil, err
	}

	views := make([]ArchiveView, 0, len(page.Items))
	for _, archive := range page.Items {
		views = append(views, ArchiveView{
			Name:             archive.Name,
			CreatedAt:        archive.CreatedAt,
			OriginalSize:     borgmon.FormatSize(archive.OriginalSize),
			CompressedSize:   borgmon.FormatSize(archive.CompressedSize),
			DeduplicatedSize: borgmon.FormatSize(archive.DeduplicatedSize),
		})
	}

	return &borgmon.Page[ArchiveView]{
		Items:      views,
		Total:      page.Total,
		HasMore:    page.HasMore,
		NextOffset: page.NextOffset,
	}, nil
}

// ListEvents returns a page of a job's event log, newest first. Repeated
// calls over an unchanged log return identical pages.
func ListEvents(ctx context.Context, jobID string, offset, limit int) (*borgmon.Page[EventView], error) {
	if _, ok := JobByID(jobID); !ok {
		return nil, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}
	events, err := storage.Events(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// newest first, ties broken by insertion sequence descending
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID > events[j].ID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	now := time.Now()
	views := make([]EventView, 0, len(events))
	for _, event := range events {
		ts := event.Timestamp
		views = append(views, EventView{
			ID:                event.ID,
			Type:              event.Type,
			Timestamp:         event.Timestamp,
			TimestampRelative: borgmon.RelativeTime(&ts, now),
			Message:           event.Message,
			HasInfo:           event.HasInfo,
			Extra:             event.Extra,
		})
	}

	page := borgmon.NewPage(views, offset, limit)
	return &page, nil
}

// GetEventBody returns a line page of an event's stored text body.
func GetEventBody(ctx context.Context, jobID string, eventID uint64, offset, limit int) (*borgmon.BodyPage, error) {
	if _, ok := JobByID(jobID); !ok {
		return nil, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return storage.EventBody(ctx, jobID, eventID, offset, limit)
}

func storageFromContext(ctx context.Context) (borgmon.StateStorer, error) {
	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("unable to get settings from context")
	}
	return bolt.GetStorage(opts)
}

// matchesFilter applies the shared tag/search predicate of the job list
// and the chart aggregation: all requested tags must match exactly
// (case-insensitive), search is a case-insensitive substring on the name.
func matchesFilter(job borgmon.Job, tags []string, search string) bool {
	if search != "" && !strings.Contains(strings.ToLower(job.Name), strings.ToLower(search)) {
		return false
	}
	for _, wanted := range tags {
		found := false
		for _, tag := range job.Tags {
			if strings.EqualFold(tag, wanted) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func jobView(job borgmon.Job, summary *borgmon.JobSummary, now time.Time, detail bool) JobView {
	if summary == nil {
		fresh := borgmon.NewJobSummary(job.ID)
		summary = &fresh
	}

	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}

	view := JobView{
		JobID:                        job.ID,
		Name:                         job.Name,
		Status:                       summary.Status,
		ScheduleStatus:               job.ScheduleStatusAt(now, summary.LastBackup),
		LastBackup:                   summary.LastBackup,
		LastBackupRelative:           borgmon.RelativeTime(summary.LastBackup, now),
		LastSuccessfulBackup:         summary.LastSuccessfulBackup,
		LastSuccessfulBackupRelative: borgmon.RelativeTime(summary.LastSuccessfulBackup, now),
		Tags:                         tags,
		Stats: JobStatsView{
			ArchiveCount:     summary.ArchiveCount,
			FullSize:         borgmon.FormatSize(summary.TotalSize),
			CompressedSize:   borgmon.FormatSize(summary.TotalCompressedSize),
			DeduplicatedSize: borgmon.FormatSize(summary.UniqueSize),
			CompressionRatio: fmt.Sprintf("%.1f%%", summary.CompressionRatio()),
		},
	}

	if detail {
		view.Description = job.Description
		view.BackupType = job.BackupType
		view.MaxAge = job.MaxAgeSpec
	}

	return view
}

var statusRank = map[borgmon.Status]int{}

func init() {
	for i, s := range borgmon.AllStatuses {
		statusRank[s] = i
	}
}

func sortJobViews(views []JobView, sortBy, sortDir string) {
	desc := sortDir == "desc"

	less := func(i, j int) bool {
		a, b := views[i], views[j]
		var cmp int
		switch sortBy {
		case "lastBackup":
			cmp = compareTimePtr(a.LastBackup, b.LastBackup)
		case "status":
			cmp = statusRank[a.Status] - statusRank[b.Status]
		default: // name
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		if desc {
			cmp = -cmp
		}
		if cmp == 0 {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) < 0
		}
		return cmp < 0
	}

	sort.SliceStable(views, less)
}

// compareTimePtr orders nil timestamps first, so jobs that never ran sort
// before the oldest backup in ascending order.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}
