package bolt

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"webup/borgmon"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T) borgmon.StateStorer {
	t.Helper()

	settings := borgmon.NewDefaultSettings()
	settings.DataDir = t.TempDir()

	storage, err := GetStorage(settings)
	require.NoError(t, err)
	t.Cleanup(storage.Cleanup)

	return storage
}

func TestGetStorageConcurrent(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	settings := borgmon.NewDefaultSettings()
	settings.DataDir = t.TempDir()

	// cold-start appends arriving together must share one connection
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			storage, err := GetStorage(settings)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	storage, err := GetStorage(settings)
	require.NoError(t, err)
	t.Cleanup(storage.Cleanup)

	events, err := storage.Events(ctx, "db")
	require.NoError(t, err)
	assert.Len(t, events, writers)
}

func TestAppendEvent(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("ids are sequential and gap-free per job", func(t *testing.T) {
		storage := openTestStorage(t)

		for i := 1; i <= 3; i++ {
			id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(i), id)
		}

		id, err := storage.AppendEvent(ctx, "files", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id, "each job keeps its own sequence")

		events, err := storage.Events(ctx, "db")
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, event := range events {
			assert.Equal(t, uint64(i+1), event.ID)
		}
	})

	t.Run("body sets hasInfo and is stored alongside", func(t *testing.T) {
		storage := openTestStorage(t)

		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventInfo, Timestamp: ts}, []byte("line one\nline two\n"))
		require.NoError(t, err)

		events, err := storage.Events(ctx, "db")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.True(t, events[0].HasInfo)

		page, err := storage.EventBody(ctx, "db", id, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, []string{"line one", "line two"}, page.Lines)
		assert.Equal(t, 2, page.TotalLines)
		assert.False(t, page.HasMore)
	})

	t.Run("oversized body is truncated on a line boundary", func(t *testing.T) {
		storage := openTestStorage(t)

		line := strings.Repeat("x", 1000) + "\n"
		body := []byte(strings.Repeat(line, borgmon.MaxEventBodySize/1000))

		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, body)
		require.NoError(t, err)

		page, err := storage.EventBody(ctx, "db", id, 0, 0)
		require.NoError(t, err)
		require.NotEmpty(t, page.Lines)
		assert.Equal(t, "[truncated]", page.Lines[len(page.Lines)-1])
		for _, l := range page.Lines[:len(page.Lines)-1] {
			assert.Len(t, l, 1000, "truncation must not split a line")
		}
	})
}

func TestEventBody(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("missing body yields not found", func(t *testing.T) {
		storage := openTestStorage(t)

		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, nil)
		require.NoError(t, err)

		_, err = storage.EventBody(ctx, "db", id, 0, 50)
		assert.ErrorIs(t, err, borgmon.ErrNotFound)
	})

	t.Run("pages reassemble the full body", func(t *testing.T) {
		storage := openTestStorage(t)

		var lines []string
		for i := 0; i < 10; i++ {
			lines = append(lines, strings.Repeat("l", i+1))
		}
		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, []byte(strings.Join(lines, "\n")+"\n"))
		require.NoError(t, err)

		var got []string
		offset := 0
		for {
			page, err := storage.EventBody(ctx, "db", id, offset, 3)
			require.NoError(t, err)
			got = append(got, page.Lines...)
			if !page.HasMore {
				break
			}
			require.NotNil(t, page.NextOffset)
			offset = *page.NextOffset
		}

		assert.Equal(t, lines, got)
	})

	t.Run("zero limit returns every line without a next page", func(t *testing.T) {
		storage := openTestStorage(t)

		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, []byte("l1\nl2\nl3\n"))
		require.NoError(t, err)

		page, err := storage.EventBody(ctx, "db", id, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"l1", "l2", "l3"}, page.Lines)
		assert.False(t, page.HasMore)
		assert.Nil(t, page.NextOffset)
	})

	t.Run("offset past the end yields an empty page", func(t *testing.T) {
		storage := openTestStorage(t)

		id, err := storage.AppendEvent(ctx, "db", borgmon.Event{Type: borgmon.EventLog, Timestamp: ts}, []byte("only line\n"))
		require.NoError(t, err)

		page, err := storage.EventBody(ctx, "db", id, 50, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Lines)
		assert.Equal(t, 1, page.TotalLines)
		assert.False(t, page.HasMore)
	})
}

func TestReplaceArchives(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	archive := func(name string, size int64, at time.Time) borgmon.Archive {
		return borgmon.Archive{Name: name, CreatedAt: at, OriginalSize: size, CompressedSize: size / 2, DeduplicatedSize: size / 4}
	}

	t.Run("replacement swaps the registry wholesale", func(t *testing.T) {
		storage := openTestStorage(t)

		require.NoError(t, storage.ReplaceArchives(ctx, "db", []borgmon.Archive{
			archive("old-1", 100, created),
			archive("old-2", 200, created.Add(time.Hour)),
		}, borgmon.RepositoryTotals{TotalSize: 300, TotalCompressedSize: 150, UniqueSize: 75}))

		require.NoError(t, storage.ReplaceArchives(ctx, "db", []borgmon.Archive{
			archive("new-1", 400, created.Add(2*time.Hour)),
		}, borgmon.RepositoryTotals{TotalSize: 400, TotalCompressedSize: 200, UniqueSize: 100}))

		page, err := storage.Archives(ctx, "db", borgmon.ArchiveQuery{Limit: 50})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "new-1", page.Items[0].Name)
	})

	t.Run("replacement updates the summary rollups", func(t *testing.T) {
		storage := openTestStorage(t)

		require.NoError(t, storage.ReplaceArchives(ctx, "db", []borgmon.Archive{
			archive("a", 100, created),
			archive("b", 200, created),
		}, borgmon.RepositoryTotals{TotalSize: 300, TotalCompressedSize: 150, UniqueSize: 75}))

		summary, err := storage.Summary(ctx, "db")
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, 2, summary.ArchiveCount)
		assert.Equal(t, int64(300), summary.TotalSize)
		assert.Equal(t, int64(150), summary.TotalCompressedSize)
		assert.Equal(t, int64(75), summary.UniqueSize)
	})

	t.Run("rollup update preserves the derived status", func(t *testing.T) {
		storage := openTestStorage(t)

		existing := borgmon.NewJobSummary("db")
		existing.Status = borgmon.StatusSuccess
		require.NoError(t, storage.SaveSummary(ctx, existing))

		require.NoError(t, storage.ReplaceArchives(ctx, "db", nil, borgmon.RepositoryTotals{}))

		summary, err := storage.Summary(ctx, "db")
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, borgmon.StatusSuccess, summary.Status)
	})
}

func TestArchives(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	seed := func(t *testing.T) borgmon.StateStorer {
		storage := openTestStorage(t)
		require.NoError(t, storage.ReplaceArchives(ctx, "db", []borgmon.Archive{
			{Name: "b", CreatedAt: created.Add(2 * time.Hour), OriginalSize: 300},
			{Name: "a", CreatedAt: created, OriginalSize: 100},
			{Name: "c", CreatedAt: created.Add(time.Hour), OriginalSize: 200},
		}, borgmon.RepositoryTotals{TotalSize: 600}))
		return storage
	}

	names := func(page *borgmon.Page[borgmon.Archive]) []string {
		out := make([]string, 0, len(page.Items))
		for _, a := range page.Items {
			out = append(out, a.Name)
		}
		return out
	}

	t.Run("sort by name ascending", func(t *testing.T) {
		storage := seed(t)

		page, err := storage.Archives(ctx, "db", borgmon.ArchiveQuery{Limit: 50, SortBy: borgmon.ArchiveSortName, SortOrder: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names(page))
	})

	t.Run("sort by date descending", func(t *testing.T) {
		storage := seed(t)

		page, err := storage.Archives(ctx, "db", borgmon.ArchiveQuery{Limit: 50, SortBy: borgmon.ArchiveSortDate, SortOrder: "desc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, names(page))
	})

	t.Run("pagination reconstructs the whole registry", func(t *testing.T) {
		storage := seed(t)

		var got []string
		offset := 0
		for {
			page, err := storage.Archives(ctx, "db", borgmon.ArchiveQuery{Offset: offset, Limit: 2, SortBy: borgmon.ArchiveSortName, SortOrder: "asc"})
			require.NoError(t, err)
			got = append(got, names(page)...)
			assert.Equal(t, 3, page.Total)
			if !page.HasMore {
				break
			}
			require.NotNil(t, page.NextOffset)
			offset = *page.NextOffset
		}

		assert.Equal(t, []string{"a", "b", "c"}, got)
	})

	t.Run("unknown job yields an empty page", func(t *testing.T) {
		storage := openTestStorage(t)

		page, err := storage.Archives(ctx, "nope", borgmon.ArchiveQuery{Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, 0, page.Total)
	})
}

func TestSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := openTestStorage(t)

	missing, err := storage.Summary(ctx, "db")
	require.NoError(t, err)
	assert.Nil(t, missing, "a job without data has no cached summary")

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	summary := borgmon.NewJobSummary("db")
	summary.Status = borgmon.StatusRunning
	summary.LastStartID = 7
	summary.LastStartTime = &ts
	summary.LastBackup = &ts
	require.NoError(t, storage.SaveSummary(ctx, summary))

	loaded, err := storage.Summary(ctx, "db")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, borgmon.StatusRunning, loaded.Status)
	assert.Equal(t, uint64(7), loaded.LastStartID)
	require.NotNil(t, loaded.LastStartTime)
	assert.True(t, loaded.LastStartTime.Equal(ts))
}
