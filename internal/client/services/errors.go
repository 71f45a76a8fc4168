package services

import "errors"

var (
	// ErrSyncInProgress means another cycle holds the store lock.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrReauthRequired means the server rejected the credential. Cycles
	// will keep failing until a new credential is supplied.
	ErrReauthRequired = errors.New("reauthentication required")
)
