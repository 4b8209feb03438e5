package tasks

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"webup/borgmon"

	log "github.com/sirupsen/logrus"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]borgmon.Job{}
)

// UpdateJobsFromSpec scans the config directory for job spec files and
// rebuilds the in-memory job registry. A spec without API keys gets one
// generated and written back, so the remote hook has a credential to use.
// Jobs are only ever created by configuration, never by a push.
func UpdateJobsFromSpec(ctx context.Context) {

	log.Debugln("Updating jobs from spec files...")

	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		log.Errorln("Unable to get settings from context")
		return
	}

	specFiles := []string{}
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(opts.ConfigDir, pattern))
		if err != nil {
			continue
		}
		specFiles = append(specFiles, matches...)
	}
	sort.Strings(specFiles)

	jobs := map[string]borgmon.Job{}

	for _, file := range specFiles {

		log.WithFields(log.Fields{
			"file": file,
		}).Debugln("Parsing spec file")

		spec, err := parseSpecFile(file)
		if err != nil {
			log.WithFields(log.Fields{
				"file": file,
				"err":  err,
			}).Errorln("Unable to parse job spec file")
			continue
		}

		if err := spec.IsValid(); err != nil {
			log.WithFields(log.Fields{
				"file": file,
				"err":  err,
			}).Errorln("The job spec file is not valid")
			continue
		}

		if _, exists := jobs[spec.JobID]; exists {
			log.WithFields(log.Fields{
				"file": file,
				"job":  spec.JobID,
			}).Errorln("Duplicate job_id. Skipping.")
			continue
		}

		if len(spec.APIKeys) == 0 {
			spec.APIKeys = []string{borgmon.GenerateAPIKey()}
			if err := writeSpecFile(file, spec); err != nil {
				log.WithFields(log.Fields{
					"file": file,
					"err":  err,
				}).Errorln("Unable to write generated API key back to spec file")
				continue
			}
			log.WithFields(log.Fields{
				"job": spec.JobID,
			}).Infoln("Generated a push API key for job")
		}

		jobs[spec.JobID] = spec.Job()
	}

	registryMu.Lock()
	created := len(jobs) - len(registry)
	registry = jobs
	registryMu.Unlock()

	if created != 0 {
		log.WithFields(log.Fields{
			"jobs": len(jobs),
		}).Infoln("Job registry updated")
	}
}

// Jobs returns the configured jobs, sorted by display name.
func Jobs() []borgmon.Job {
	registryMu.RLock()
	defer registryMu.RUnlock()

	jobs := make([]borgmon.Job, 0, len(registry))
	for _, job := range registry {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return strings.ToLower(jobs[i].Name) < strings.ToLower(jobs[j].Name)
	})
	return jobs
}

// JobByID returns a configured job.
func JobByID(jobID string) (borgmon.Job, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	job, ok := registry[jobID]
	return job, ok
}
