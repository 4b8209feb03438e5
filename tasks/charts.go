package tasks

import (
	"context"
	"fmt"
	"time"
	"webup/borgmon"
)

// ChartPoint is one grouped count in a chart payload.
type ChartPoint struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// ChartData is the dashboard chart payload.
type ChartData struct {
	Success   bool         `json:"success"`
	Type      string       `json:"type"`
	Data      []ChartPoint `json:"data"`
	TotalJobs int          `json:"total_jobs"`
}

// Chart dimensions.
const (
	ChartBackupStatus  = "backup-status"
	ChartBackupOverdue = "backup-overdue"
)

// AggregateChart computes grouped job counts for dashboard charts, after
// applying the same tag/search predicate as the job list. Every group of
// the dimension is present in the result, zero counts included.
func AggregateChart(ctx context.Context, chartType string, tags []string, search string) (*ChartData, error) {
	if chartType != ChartBackupStatus && chartType != ChartBackupOverdue {
		return nil, fmt.Errorf("%w: unknown chart type %q", borgmon.ErrMalformedPayload, chartType)
	}

	storage, err := storageFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	counts := map[string]int{}
	total := 0

	for _, job := range Jobs() {
		if !matchesFilter(job, tags, search) {
			continue
		}
		total++

		summary, err := storage.Summary(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			fresh := borgmon.NewJobSummary(job.ID)
			summary = &fresh
		}

		switch chartType {
		case ChartBackupStatus:
			counts[string(summary.Status)]++
		case ChartBackupOverdue:
			counts[string(job.ScheduleStatusAt(now, summary.LastBackup))]++
		}
	}

	data := []ChartPoint{}
	switch chartType {
	case ChartBackupStatus:
		for _, s := range borgmon.AllStatuses {
			data = append(data, ChartPoint{Name: string(s), Value: counts[string(s)]})
		}
	case ChartBackupOverdue:
		for _, s := range borgmon.AllScheduleStatuses {
			data = append(data, ChartPoint{Name: string(s), Value: counts[string(s)]})
		}
	}

	return &ChartData{
		Success:   true,
		Type:      chartType,
		Data:      data,
		TotalJobs: total,
	}, nil
}
