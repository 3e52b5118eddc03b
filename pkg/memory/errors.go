package memory

import "errors"

var (
	// ErrMalformedExtraction indicates the completion service returned output
	// that does not parse as a core-memory payload. The merge is aborted and
	// existing memory stays untouched.
	ErrMalformedExtraction = errors.New("malformed extraction payload")

	// ErrSummaryTooShort indicates a generated compression summary was too
	// short to be trusted; nothing is persisted.
	ErrSummaryTooShort = errors.New("compression summary too short")
)
