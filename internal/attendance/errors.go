package attendance

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. IdentityNotFound and IdentityInactive are terminal
// for a scan but still produce a ScanLog entry. StoreUnavailable is retryable
// by the transport's redelivery; the pipeline itself never retries.
var (
	ErrIdentityNotFound = errors.New("card not found")
	ErrIdentityInactive = errors.New("identity not active")
	ErrNotOnSchedule    = errors.New("not on schedule")
	ErrNotEnrolled      = errors.New("not enrolled in meeting")
	ErrMeetingNotFound  = errors.New("meeting not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrValidation       = errors.New("invalid payload")
)

// wrapStore maps store timeouts and connection failures to ErrStoreUnavailable
// so a flaky database never masquerades as "not found". Repositories report
// genuine misses as nil results, never as errors, so any error reaching the
// pipeline is a store failure.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
