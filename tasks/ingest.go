package tasks

import (
	"context"
	"fmt"
	"time"
	"webup/borgmon"
	"webup/borgmon/auth"
	"webup/borgmon/bolt"
	"webup/borgmon/status"

	log "github.com/sirupsen/logrus"
)

// PushEventRequest is the wire payload of a discrete event push.
type PushEventRequest struct {
	JobID   string            `json:"job_id"`
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Info    string            `json:"info,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// PushResponse is the standard response for push endpoints.
type PushResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PushEvent validates and appends one event to a job's log, then updates
// the derived summary incrementally. The append is durable on its own: a
// crash between append and derivation loses nothing, since the summary is
// only a cache over the log.
func PushEvent(ctx context.Context, apiKey string, req PushEventRequest) (*PushResponse, error) {
	job, err := authorizePush(apiKey, req.JobID)
	if err != nil {
		return nil, err
	}

	eventType := borgmon.EventType(req.Type)
	if !borgmon.KnownEventType(eventType) {
		return nil, fmt.Errorf("%w: unknown event type %q", borgmon.ErrMalformedPayload, req.Type)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: 'message' is required", borgmon.ErrMalformedPayload)
	}

	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("unable to get settings from context")
	}
	storage, err := bolt.GetStorage(opts)
	if err != nil {
		return nil, err
	}

	event := borgmon.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   req.Message,
		Extra:     req.Extra,
	}

	lock := jobLock(job.ID)
	lock.Lock()
	defer lock.Unlock()

	id, err := storage.AppendEvent(ctx, job.ID, event, []byte(req.Info))
	if err != nil {
		return nil, err
	}
	event.ID = id
	event.HasInfo = req.Info != ""

	if err := deriveIncremental(ctx, storage, job.ID, event); err != nil {
		// the event is already durable; the summary will catch up on the
		// next push or a full sync
		log.WithFields(log.Fields{
			"job": job.ID,
			"id":  id,
			"err": err,
		}).Warnln("Event stored but summary update failed")
	}

	log.WithFields(log.Fields{
		"job":  job.ID,
		"id":   id,
		"type": event.Type,
	}).Debugln("Event stored")

	return &PushResponse{
		Success:   true,
		Message:   "Event stored successfully",
		JobID:     job.ID,
		Timestamp: time.Now(),
	}, nil
}

func deriveIncremental(ctx context.Context, storage borgmon.StateStorer, jobID string, event borgmon.Event) error {
	summary, err := storage.Summary(ctx, jobID)
	if err != nil {
		return err
	}
	if summary == nil {
		fresh := borgmon.NewJobSummary(jobID)
		summary = &fresh
	}

	status.Apply(summary, event)
	return storage.SaveSummary(ctx, *summary)
}

func authorizePush(apiKey, jobID string) (borgmon.Job, error) {
	if jobID == "" {
		return borgmon.Job{}, fmt.Errorf("%w: 'job_id' is required", borgmon.ErrMalformedPayload)
	}
	job, ok := JobByID(jobID)
	if !ok {
		return borgmon.Job{}, fmt.Errorf("%w: unknown job %q", borgmon.ErrNotFound, jobID)
	}
	if !auth.VerifyPushKey(job, apiKey) {
		return borgmon.Job{}, fmt.Errorf("%w: invalid API key for job %q", borgmon.ErrUnauthorized, jobID)
	}
	return job, nil
}
