package syncer

import "errors"

var (
	// ErrAlreadySyncing means another live attempt owns the user's sync
	// state. Callers surface it as a conflict, not a failure.
	ErrAlreadySyncing = errors.New("sync already in progress")

	// ErrAuthExpired means the Drive grant is gone and the user must
	// reconnect before syncing can resume.
	ErrAuthExpired = errors.New("drive authorization expired")

	// ErrSyncCancelled means the sync state was failed or reassigned out
	// from under the running worker, which then stopped claiming work.
	ErrSyncCancelled = errors.New("sync cancelled")
)
