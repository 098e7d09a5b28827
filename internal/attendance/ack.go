package attendance

import (
	"errors"
	"fmt"
)

// Ack maps a pipeline outcome to the reader-facing ack payload. The wording
// is part of the device protocol; readers show it on their display.
func Ack(res Result, err error) map[string]any {
	switch {
	case err == nil && res.Duplicate:
		return map[string]any{"success": true, "duplicate": true, "attendance": res.Record}
	case err == nil:
		return map[string]any{"success": true, "attendance": res.Record}
	case errors.Is(err, ErrIdentityNotFound):
		return map[string]any{"success": false, "error": "Card not found"}
	case errors.Is(err, ErrIdentityInactive):
		name := "identity"
		if res.Identity != nil {
			name = res.Identity.Name
		}
		return map[string]any{"success": false, "error": fmt.Sprintf("%s is not active", name)}
	case errors.Is(err, ErrNotOnSchedule):
		return map[string]any{"success": false, "error": "Not on schedule"}
	case errors.Is(err, ErrValidation):
		return map[string]any{"success": false, "error": "Invalid scan payload"}
	default:
		return map[string]any{"success": false, "error": "Service unavailable", "retryable": true}
	}
}
