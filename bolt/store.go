package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"webup/borgmon"

	"github.com/boltdb/bolt"
	log "github.com/sirupsen/logrus"
)

var (
	bucketEvents    = []byte("events")
	bucketBodies    = []byte("bodies")
	bucketArchives  = []byte("archives")
	bucketSummaries = []byte("summaries")
)

// Storage implements the StateStorer interface to store the state locally, using BoltDB
type Storage struct {
	db *bolt.DB
}

var (
	dbMu sync.Mutex
	db   *bolt.DB
)

// GetStorage returns a storage handle over the shared BoltDB connection,
// opening it on first use. Safe to call from concurrent request handlers.
func GetStorage(opts borgmon.Settings) (borgmon.StateStorer, error) {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db == nil {
		log.Debugln("Opening BoltDB...")
		newConnection, err := bolt.Open(filepath.Join(opts.DataDir, "borgmon.db"), 0644, &bolt.Options{Timeout: 1 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", borgmon.ErrStorageUnavailable, err)
		}
		db = newConnection
		log.Debugln("BoltDB opened.")
	}

	return &Storage{db: db}, nil
}

// Cleanup cleans the opened connection to BoltDB file
func (b *Storage) Cleanup() {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		log.Debugln("Closing BoltDB")
		db.Close()
		db = nil
	}
}

// AppendEvent appends an event to a job's log and stores its optional body,
// in a single transaction. The returned id is the job's next sequence value.
func (b *Storage) AppendEvent(ctx context.Context, jobID string, event borgmon.Event, body []byte) (uint64, error) {
	var id uint64

	if len(body) > borgmon.MaxEventBodySize {
		body = truncateBody(body)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		jobEvents, err := jobBucket(tx, bucketEvents, jobID)
		if err != nil {
			return err
		}

		id, err = jobEvents.NextSequence()
		if err != nil {
			return err
		}
		event.ID = id
		event.HasInfo = len(body) > 0

		jsonData, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := jobEvents.Put(eventKey(id), jsonData); err != nil {
			return err
		}

		if len(body) > 0 {
			jobBodies, err := jobBucket(tx, bucketBodies, jobID)
			if err != nil {
				return err
			}
			if err := jobBodies.Put(eventKey(id), body); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"job": jobID,
			"err": err,
		}).Errorln("Unable to append event into BoltDB")
		return 0, fmt.Errorf("%w: %v", borgmon.ErrStorageUnavailable, err)
	}

	return id, nil
}

// Events returns the full event log of a job, ordered by id ascending.
// A job with no log yet yields an empty slice, not an error.
func (b *Storage) Events(ctx context.Context, jobID string) ([]borgmon.Event, error) {
	events := []borgmon.Event{}

	err := b.db.View(func(tx *bolt.Tx) error {
		jobEvents := viewJobBucket(tx, bucketEvents, jobID)
		if jobEvents == nil {
			return nil
		}

		c := jobEvents.Cursor()
		for key, value := c.First(); key != nil; key, value = c.Next() {
			var event borgmon.Event
			if err := json.Unmarshal(value, &event); err != nil {
				log.WithFields(log.Fields{
					"job": jobID,
					"id":  binary.BigEndian.Uint64(key),
					"err": err,
				}).Warnln("Skipping unreadable event record")
				continue
			}
			events = append(events, event)
		}
		return nil
	})

	return events, err
}

// EventBody returns a line-oriented page of an event's text body.
func (b *Storage) EventBody(ctx context.Context, jobID string, eventID uint64, offset, limit int) (*borgmon.BodyPage, error) {
	var body []byte

	err := b.db.View(func(tx *bolt.Tx) error {
		jobBodies := viewJobBucket(tx, bucketBodies, jobID)
		if jobBodies == nil {
			return nil
		}
		if value := jobBodies.Get(eventKey(eventID)); value != nil {
			body = make([]byte, len(value))
			copy(body, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: no body for event %d of job %q", borgmon.ErrNotFound, eventID, jobID)
	}

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	totalLines := len(lines)

	if offset < 0 {
		offset = 0
	}
	if offset > totalLines {
		offset = totalLines
	}
	end := offset + limit
	if limit <= 0 || end > totalLines {
		end = totalLines
	}

	page := &borgmon.BodyPage{
		Lines:      lines[offset:end],
		TotalLines: totalLines,
	}
	if end < totalLines {
		page.HasMore = true
		next := end
		page.NextOffset = &next
	}
	return page, nil
}

// ReplaceArchives swaps a job's archive registry wholesale and updates the
// summary rollups, in a single transaction. A reader sees the old registry
// or the new one, never a mix.
func (b *Storage) ReplaceArchives(ctx context.Context, jobID string, archives []borgmon.Archive, totals borgmon.RepositoryTotals) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketArchives)
		if err != nil {
			return err
		}
		if root.Bucket([]byte(jobID)) != nil {
			if err := root.DeleteBucket([]byte(jobID)); err != nil {
				return err
			}
		}
		jobArchives, err := root.CreateBucket([]byte(jobID))
		if err != nil {
			return err
		}

		for _, archive := range archives {
			jsonData, err := json.Marshal(archive)
			if err != nil {
				return err
			}
			if err := jobArchives.Put([]byte(archive.Name), jsonData); err != nil {
				return err
			}
		}

		return updateSummaryRollups(tx, jobID, len(archives), totals)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"job": jobID,
			"err": err,
		}).Errorln("Unable to replace archives into BoltDB")
		return fmt.Errorf("%w: %v", borgmon.ErrStorageUnavailable, err)
	}

	log.WithFields(log.Fields{
		"job":      jobID,
		"archives": len(archives),
	}).Debugln("Archive registry replaced")
	return nil
}

// Archives returns a sorted page of a job's archive registry.
func (b *Storage) Archives(ctx context.Context, jobID string, query borgmon.ArchiveQuery) (*borgmon.Page[borgmon.Archive], error) {
	archives := []borgmon.Archive{}

	err := b.db.View(func(tx *bolt.Tx) error {
		jobArchives := viewJobBucket(tx, bucketArchives, jobID)
		if jobArchives == nil {
			return nil
		}

		c := jobArchives.Cursor()
		for key, value := c.First(); key != nil; key, value = c.Next() {
			var archive borgmon.Archive
			if err := json.Unmarshal(value, &archive); err != nil {
				log.WithFields(log.Fields{
					"job":     jobID,
					"archive": string(key),
					"err":     err,
				}).Warnln("Skipping unreadable archive record")
				continue
			}
			archives = append(archives, archive)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortArchives(archives, query.SortBy, query.SortOrder)

	page := borgmon.NewPage(archives, query.Offset, query.Limit)
	return &page, nil
}

// Summary returns the cached derived summary of a job, or nil if the job
// never received any data.
func (b *Storage) Summary(ctx context.Context, jobID string) (*borgmon.JobSummary, error) {
	var summary *borgmon.JobSummary

	err := b.db.View(func(tx *bolt.Tx) error {
		summaries := tx.Bucket(bucketSummaries)
		if summaries == nil {
			return nil
		}
		value := summaries.Get([]byte(jobID))
		if value == nil {
			return nil
		}
		summary = &borgmon.JobSummary{}
		return json.Unmarshal(value, summary)
	})

	return summary, err
}

// SaveSummary stores the derived summary of a job.
func (b *Storage) SaveSummary(ctx context.Context, summary borgmon.JobSummary) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		summaries, err := tx.CreateBucketIfNotExists(bucketSummaries)
		if err != nil {
			return err
		}
		jsonData, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		return summaries.Put([]byte(summary.JobID), jsonData)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", borgmon.ErrStorageUnavailable, err)
	}
	return nil
}

func updateSummaryRollups(tx *bolt.Tx, jobID string, archiveCount int, totals borgmon.RepositoryTotals) error {
	summaries, err := tx.CreateBucketIfNotExists(bucketSummaries)
	if err != nil {
		return err
	}

	summary := borgmon.NewJobSummary(jobID)
	if value := summaries.Get([]byte(jobID)); value != nil {
		if err := json.Unmarshal(value, &summary); err != nil {
			log.WithFields(log.Fields{
				"job": jobID,
				"err": err,
			}).Warnln("Resetting unreadable summary record")
			summary = borgmon.NewJobSummary(jobID)
		}
	}

	summary.ArchiveCount = archiveCount
	summary.TotalSize = totals.TotalSize
	summary.TotalCompressedSize = totals.TotalCompressedSize
	summary.UniqueSize = totals.UniqueSize
	summary.UpdatedAt = time.Now()

	jsonData, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return summaries.Put([]byte(jobID), jsonData)
}

func jobBucket(tx *bolt.Tx, root []byte, jobID string) (*bolt.Bucket, error) {
	rootBucket, err := tx.CreateBucketIfNotExists(root)
	if err != nil {
		return nil, err
	}
	return rootBucket.CreateBucketIfNotExists([]byte(jobID))
}

func viewJobBucket(tx *bolt.Tx, root []byte, jobID string) *bolt.Bucket {
	rootBucket := tx.Bucket(root)
	if rootBucket == nil {
		return nil
	}
	return rootBucket.Bucket([]byte(jobID))
}

func eventKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// truncateBody cuts a body at the size bound, on a line boundary when
// possible, and marks the cut.
func truncateBody(body []byte) []byte {
	cut := body[:borgmon.MaxEventBodySize]
	if idx := bytes.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx+1]
	}
	return append(cut, []byte("[truncated]")...)
}

func sortArchives(archives []borgmon.Archive, sortBy borgmon.ArchiveSortField, sortOrder string) {
	desc := sortOrder == "desc"

	less := func(i, j int) bool {
		a, b := archives[i], archives[j]
		var cmp int
		switch sortBy {
		case borgmon.ArchiveSortName:
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case borgmon.ArchiveSortOriginalSize:
			cmp = compareInt64(a.OriginalSize, b.OriginalSize)
		case borgmon.ArchiveSortCompressedSize:
			cmp = compareInt64(a.CompressedSize, b.CompressedSize)
		case borgmon.ArchiveSortDeduplicatedSize:
			cmp = compareInt64(a.DeduplicatedSize, b.DeduplicatedSize)
		default: // date
			switch {
			case a.CreatedAt.Before(b.CreatedAt):
				cmp = -1
			case a.CreatedAt.After(b.CreatedAt):
				cmp = 1
			}
		}
		if desc {
			cmp = -cmp
		}
		if cmp == 0 {
			// ties broken by name ascending, regardless of direction
			return strings.Compare(a.Name, b.Name) < 0
		}
		return cmp < 0
	}

	sort.SliceStable(archives, less)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
