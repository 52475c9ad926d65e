package generation

import "errors"

var (
	// ErrNoData is recorded on a job whose data source returned zero rows.
	// The text is shown to users as-is.
	ErrNoData = errors.New("No data found for the given filters") //nolint:staticcheck // user-facing message

	// ErrEmptyOutput is returned when a serializer produced no bytes.
	ErrEmptyOutput = errors.New("serializer produced an empty file")

	// ErrNilDependency is returned by NewWorker when a required collaborator is missing.
	ErrNilDependency = errors.New("worker dependency cannot be nil")
)
