package tasks

import (
	"sync"
)

var (
	jobLocksMu sync.Mutex
	jobLocks   = map[string]*sync.Mutex{}
)

// jobLock returns the mutex serializing appends, incremental derivation and
// full syncs for one job. Cross-job operations never share a lock. Reads do
// not take it: a reader may miss the very latest append, which is fine.
func jobLock(jobID string) *sync.Mutex {
	jobLocksMu.Lock()
	defer jobLocksMu.Unlock()

	lock, ok := jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		jobLocks[jobID] = lock
	}
	return lock
}
