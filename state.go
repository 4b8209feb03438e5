package borgmon

import (
	"context"
)

// Page is the shape shared by every offset-paginated listing.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	HasMore    bool `json:"hasMore"`
	NextOffset *int `json:"nextOffset"`
}

// NewPage paginates the already-sorted items slice.
func NewPage[T any](items []T, offset, limit int) Page[T] {
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := Page[T]{Items: items[offset:end], Total: total}
	if end < total {
		page.HasMore = true
		next := end
		page.NextOffset = &next
	}
	return page
}

// BodyPage is a line-oriented page over an event's text body.
type BodyPage struct {
	Lines      []string `json:"lines"`
	TotalLines int      `json:"totalLines"`
	HasMore    bool     `json:"hasMore"`
	NextOffset *int     `json:"nextOffset"`
}

// ArchiveQuery selects and orders an archive listing.
type ArchiveQuery struct {
	Offset    int
	Limit     int
	SortBy    ArchiveSortField
	SortOrder string // "asc" or "desc"
}

// StateStorage is the lifecycle part of a storage backend.
type StateStorage interface {
	Cleanup()
}

// StateStorer defines the behaviour for interacting with a storage solution
// holding the per-job event logs, archive registries and summary caches.
// AppendEvent is the only mutation on the event log; ReplaceArchives swaps
// a job's registry wholesale and atomically.
type StateStorer interface {
	StateStorage

	AppendEvent(ctx context.Context, jobID string, event Event, body []byte) (uint64, error)
	Events(ctx context.Context, jobID string) ([]Event, error)
	EventBody(ctx context.Context, jobID string, eventID uint64, offset, limit int) (*BodyPage, error)

	ReplaceArchives(ctx context.Context, jobID string, archives []Archive, totals RepositoryTotals) error
	Archives(ctx context.Context, jobID string, query ArchiveQuery) (*Page[Archive], error)

	Summary(ctx context.Context, jobID string) (*JobSummary, error)
	SaveSummary(ctx context.Context, summary JobSummary) error
}
