package borgmon

import (
	"errors"
)

// Error taxonomy surfaced at the API edge. Storage and derivation code
// wraps these with context; handlers map them to HTTP statuses.
var (
	// ErrNotFound is returned for an unknown job, event or archive reference.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for a missing/invalid push credential or
	// an expired/absent session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedPayload is returned when a push body fails structural
	// validation. The push is rejected without any partial write.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStorageUnavailable is returned when a durable write cannot be
	// completed. Surfaced as a retryable server error to the pushing client.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
