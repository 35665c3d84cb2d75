package sync

import "fmt"

// ErrCodeSharedDriveUnavailable is reported when the configured root cannot be validated.
const ErrCodeSharedDriveUnavailable = "SHARED_DRIVE_UNAVAILABLE"

// SyncError aborts a whole deal sync. Code is stable and safe to expose to callers.
type SyncError struct {
	Code string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
