package schemas

import "errors"

// Sentinel errors shared across the pipeline. Callers wrap them with %w and
// match with errors.Is.
var (
	// ErrAuthenticationFailure means a required login element was missing or
	// the platform rejected the credentials. Fatal for a run.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrDirectoryNotFound means the owner profile, its directory link or the
	// directory panel could not be located. Fatal for a run.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrPaginationStagnation is a soft condition: collection ended because
	// repeated pagination produced no new handles.
	ErrPaginationStagnation = errors.New("pagination stagnated")

	// ErrExtractionCeilingReached is a soft condition: collection ended on the
	// absolute pagination attempt ceiling.
	ErrExtractionCeilingReached = errors.New("extraction attempt ceiling reached")

	// ErrSessionExportFailure means the native session dump could not be
	// normalized. Fatal for a run.
	ErrSessionExportFailure = errors.New("session export failure")

	// ErrPerItemFetchFailure marks a single handle whose count could not be
	// resolved. It never aborts a run.
	ErrPerItemFetchFailure = errors.New("per-item fetch failure")
)
