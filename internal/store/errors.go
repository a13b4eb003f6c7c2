package store

import "fmt"

// errRunNotFound reports a mutation against a run that was never created.
func errRunNotFound(runID string) error {
	return fmt.Errorf("run %s not found", runID)
}
