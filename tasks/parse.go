package tasks

import (
	"os"
	"webup/borgmon"

	yaml "gopkg.in/yaml.v2"
)

// parseSpecFile parses a job spec file
func parseSpecFile(filepath string) (borgmon.JobSpec, error) {
	jobSpec := borgmon.JobSpec{}

	fileContent, err := os.ReadFile(filepath)
	if err != nil {
		return jobSpec, err
	}

	err = yaml.Unmarshal(fileContent, &jobSpec)
	if err != nil {
		return jobSpec, err
	}

	return jobSpec, nil
}

// writeSpecFile writes a job spec back to disk, used when a missing API
// key was generated for it.
func writeSpecFile(filepath string, spec borgmon.JobSpec) error {
	fileContent, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, fileContent, 0600)
}
