package borgmon

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// JobSpec represents the content of a job spec file (one monitored job).
type JobSpec struct {
	JobID       string   `yaml:"job_id"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags"`
	BackupType  string   `yaml:"backup_type"`
	MaxAge      string   `yaml:"max_age"`
	APIKeys     []string `yaml:"api_keys"`
}

var (
	jobIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	maxAgePattern = regexp.MustCompile(`^(\d+)([mhd])$`)
)

// IsValid returns an error describing why the parsed spec file is invalid
func (s JobSpec) IsValid() error {
	if s.JobID == "" {
		return errors.New("'job_id' is required")
	}
	if !jobIDPattern.MatchString(s.JobID) {
		return fmt.Errorf("invalid job_id %q: only a-zA-Z, 0-9, _, - are allowed", s.JobID)
	}
	if s.BackupType != "" && s.BackupType != "borg" && s.BackupType != "borgmatic" {
		return fmt.Errorf("'backup_type' must be 'borg' or 'borgmatic', got %q", s.BackupType)
	}
	if s.MaxAge != "" {
		if _, err := ParseMaxAge(s.MaxAge); err != nil {
			return err
		}
	}
	return nil
}

// ParseMaxAge parses a schedule expectation like "30m", "24h" or "7d".
func ParseMaxAge(maxAge string) (time.Duration, error) {
	match := maxAgePattern.FindStringSubmatch(maxAge)
	if match == nil {
		return 0, fmt.Errorf("invalid max_age format %q: expected like '1440m', '24h' or '1d'", maxAge)
	}
	value, _ := strconv.Atoi(match[1])
	switch match[2] {
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	default:
		return time.Duration(value) * 24 * time.Hour, nil
	}
}

// Job builds the runtime job from the spec file content, applying defaults
// for the optional fields.
func (s JobSpec) Job() Job {
	job := Job{
		ID:          s.JobID,
		Name:        s.DisplayName,
		Description: s.Description,
		Tags:        s.Tags,
		BackupType:  s.BackupType,
		APIKeys:     s.APIKeys,
	}
	if job.Name == "" {
		job.Name = s.JobID
	}
	if job.BackupType == "" {
		job.BackupType = "borgmatic"
	}
	maxAge := s.MaxAge
	if maxAge == "" {
		maxAge = "24h"
	}
	if d, err := ParseMaxAge(maxAge); err == nil {
		job.MaxAge = d
		job.MaxAgeSpec = maxAge
	}
	return job
}

const apiKeyLength = 32

// GenerateAPIKey returns a new URL-safe push credential.
func GenerateAPIKey() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
	buf := make([]byte, apiKeyLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
