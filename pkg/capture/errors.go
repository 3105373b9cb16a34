package capture

import "errors"

// Failure causes of a capture run. Each one ends the run; none is retried.
var (
	ErrConnection       = errors.New("connection failure")
	ErrReadinessTimeout = errors.New("timeout waiting for device properties")
	ErrEmptyPayload     = errors.New("received BLOB with no blobs")
	ErrDestination      = errors.New("failed to write output file")
	ErrResultTimeout    = errors.New("timeout waiting for capture result")
)
