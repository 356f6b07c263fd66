package export

import "errors"

var (
	// ErrNoData is returned when exporting a trip without points.
	ErrNoData = errors.New("export: trip has no points")

	ErrInvalidDocument = errors.New("export: invalid document")
	ErrUnknownFormat   = errors.New("export: unknown format")
)
