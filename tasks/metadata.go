package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"webup/borgmon"
	"webup/borgmon/bolt"
	"webup/borgmon/status"

	log "github.com/sirupsen/logrus"
)

// PushBorgInfoRequest is the wire payload of a 'borg info' metadata push.
type PushBorgInfoRequest struct {
	JobID          string          `json:"job_id"`
	RepositoryInfo json.RawMessage `json:"repository_info"`
	ArchiveList    json.RawMessage `json:"archive_list"`
}

// PushBorgmaticRequest is the wire payload of a borgmatic info/rinfo push.
// Data may be a single repository document or a list of them; a list with
// more than one repository needs RepositoryLabel to pick one.
type PushBorgmaticRequest struct {
	JobID           string          `json:"job_id"`
	InfoData        json.RawMessage `json:"info_data,omitempty"`
	RinfoData       json.RawMessage `json:"rinfo_data,omitempty"`
	RepositoryLabel string          `json:"repository_label,omitempty"`
}

// repositoryDoc mirrors the JSON emitted by borg/borgmatic info commands,
// reduced to the fields the registry keeps.
type repositoryDoc struct {
	Repository struct {
		Location string `json:"location"`
		Label    string `json:"label"`
	} `json:"repository"`
	Cache struct {
		Stats struct {
			TotalSize  int64 `json:"total_size"`
			TotalCSize int64 `json:"total_csize"`
			UniqueSize int64 `json:"unique_size"`
		} `json:"stats"`
	} `json:"cache"`
	Archives []archiveDoc `json:"archives"`
}

type archiveDoc struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	Time  string `json:"time"`
	Stats *struct {
		OriginalSize     int64 `json:"original_size"`
		CompressedSize   int64 `json:"compressed_size"`
		DeduplicatedSize int64 `json:"deduplicated_size"`
	} `json:"stats,omitempty"`
	OriginalSize     *int64 `json:"original_size,omitempty"`
	CompressedSize   *int64 `json:"compressed_size,omitempty"`
	DeduplicatedSize *int64 `json:"deduplicated_size,omitempty"`
}

// PushBorgInfo replaces a job's archive registry from raw 'borg info' +
// 'borg list --json' output.
func PushBorgInfo(ctx context.Context, apiKey string, req PushBorgInfoRequest) (*PushResponse, error) {
	job, err := authorizePush(apiKey, req.JobID)
	if err != nil {
		return nil, err
	}

	var repo repositoryDoc
	if len(req.RepositoryInfo) > 0 {
		if err := json.Unmarshal(req.RepositoryInfo, &repo); err != nil {
			return nil, fmt.Errorf("%w: unparseable repository_info: %v", borgmon.ErrMalformedPayload, err)
		}
	}

	var docs []archiveDoc
	if err := json.Unmarshal(req.ArchiveList, &docs); err != nil {
		return nil, fmt.Errorf("%w: unparseable archive_list: %v", borgmon.ErrMalformedPayload, err)
	}
	repo.Archives = docs

	if err := replaceRegistry(ctx, job.ID, repo); err != nil {
		return nil, err
	}
	return metadataStored(job.ID, len(repo.Archives)), nil
}

// PushBorgmaticInfo replaces a job's archive registry from borgmatic
// info/rinfo JSON output.
func PushBorgmaticInfo(ctx context.Context, apiKey string, req PushBorgmaticRequest) (*PushResponse, error) {
	job, err := authorizePush(apiKey, req.JobID)
	if err != nil {
		return nil, err
	}

	data := req.InfoData
	if len(data) == 0 {
		data = req.RinfoData
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: 'info_data' or 'rinfo_data' is required", borgmon.ErrMalformedPayload)
	}

	repo, err := selectRepository(data, req.RepositoryLabel)
	if err != nil {
		return nil, err
	}

	if err := replaceRegistry(ctx, job.ID, repo); err != nil {
		return nil, err
	}
	return metadataStored(job.ID, len(repo.Archives)), nil
}

// selectRepository normalizes borgmatic output (object or array) down to a
// single repository document, honoring the optional label filter.
func selectRepository(data json.RawMessage, label string) (repositoryDoc, error) {
	var repos []repositoryDoc
	if err := json.Unmarshal(data, &repos); err != nil {
		var single repositoryDoc
		if err := json.Unmarshal(data, &single); err != nil {
			return repositoryDoc{}, fmt.Errorf("%w: unparseable metadata: %v", borgmon.ErrMalformedPayload, err)
		}
		repos = []repositoryDoc{single}
	}

	if len(repos) == 0 {
		return repositoryDoc{}, fmt.Errorf("%w: empty metadata", borgmon.ErrMalformedPayload)
	}

	if label == "" {
		if len(repos) > 1 {
			return repositoryDoc{}, fmt.Errorf("%w: multiple repositories found, 'repository_label' is required to select one", borgmon.ErrMalformedPayload)
		}
		return repos[0], nil
	}

	for _, repo := range repos {
		if repo.Repository.Label == label {
			return repo, nil
		}
	}
	return repositoryDoc{}, fmt.Errorf("%w: repository with label %q not found", borgmon.ErrMalformedPayload, label)
}

func replaceRegistry(ctx context.Context, jobID string, repo repositoryDoc) error {
	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		return fmt.Errorf("unable to get settings from context")
	}
	storage, err := bolt.GetStorage(opts)
	if err != nil {
		return err
	}

	archives := make([]borgmon.Archive, 0, len(repo.Archives))
	for _, doc := range repo.Archives {
		archive, err := doc.archive()
		if err != nil {
			return err
		}
		archives = append(archives, archive)
	}

	totals := borgmon.RepositoryTotals{
		TotalSize:           repo.Cache.Stats.TotalSize,
		TotalCompressedSize: repo.Cache.Stats.TotalCSize,
		UniqueSize:          repo.Cache.Stats.UniqueSize,
		Location:            repo.Repository.Location,
	}

	lock := jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	// rinfo output carries no archive list at all; keep the stored
	// registry and only refresh the repository totals. An explicit empty
	// list still replaces.
	if repo.Archives == nil {
		existing, err := storage.Archives(ctx, jobID, borgmon.ArchiveQuery{})
		if err != nil {
			return err
		}
		archives = existing.Items
	}

	if err := storage.ReplaceArchives(ctx, jobID, archives, totals); err != nil {
		return err
	}

	// the registry feeds stats rollups only; the event log still owns the
	// backup status, so recompute from there
	summary, err := storage.Summary(ctx, jobID)
	if err != nil || summary == nil {
		return err
	}
	events, err := storage.Events(ctx, jobID)
	if err != nil {
		return err
	}
	job, _ := JobByID(jobID)
	recomputed, _, err := status.Sync(ctx, *summary, events, job.MaxAge, time.Now())
	if err != nil {
		return err
	}
	return storage.SaveSummary(ctx, recomputed)
}

func (d archiveDoc) archive() (borgmon.Archive, error) {
	archive := borgmon.Archive{Name: d.Name}
	if archive.Name == "" {
		return archive, fmt.Errorf("%w: archive without a name", borgmon.ErrMalformedPayload)
	}

	started := d.Start
	if started == "" {
		started = d.Time
	}
	if started != "" {
		createdAt, err := parseBorgTime(started)
		if err != nil {
			return archive, fmt.Errorf("%w: archive %q has an unparseable timestamp: %v", borgmon.ErrMalformedPayload, d.Name, err)
		}
		archive.CreatedAt = createdAt
	}

	if d.Stats != nil {
		archive.OriginalSize = d.Stats.OriginalSize
		archive.CompressedSize = d.Stats.CompressedSize
		archive.DeduplicatedSize = d.Stats.DeduplicatedSize
	} else {
		if d.OriginalSize != nil {
			archive.OriginalSize = *d.OriginalSize
		}
		if d.CompressedSize != nil {
			archive.CompressedSize = *d.CompressedSize
		}
		if d.DeduplicatedSize != nil {
			archive.DeduplicatedSize = *d.DeduplicatedSize
		}
	}

	return archive, nil
}

// parseBorgTime accepts the timestamp formats borg emits (ISO 8601 with or
// without zone).
func parseBorgTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000000", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func metadataStored(jobID string, archives int) *PushResponse {
	log.WithFields(log.Fields{
		"job":      jobID,
		"archives": archives,
	}).Infoln("Repository metadata stored")

	return &PushResponse{
		Success:   true,
		Message:   fmt.Sprintf("Repository info and %d archives stored successfully", archives),
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}
