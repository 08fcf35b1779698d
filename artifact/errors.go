package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact exists under the given name.
	ErrNotFound = errors.New("artifact not found")
	// ErrStringNotFound is returned when an edit target does not occur in the artifact.
	ErrStringNotFound = errors.New("string not found in artifact")
	// ErrAmbiguousEdit is returned when an edit target occurs more than once
	// and replace_all was not requested.
	ErrAmbiguousEdit = errors.New("ambiguous edit")
	// ErrOffsetOutOfRange is returned when a read starts past the last line.
	ErrOffsetOutOfRange = errors.New("line offset out of range")
)
