package database

import "errors"

// Error taxonomy shared by the stores, the pipeline and the HTTP surface.
// Callers classify with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDetectionFailure  = errors.New("face detection failed")
	ErrPersistence       = errors.New("persistence failure")
	ErrFatalPipeline     = errors.New("fatal pipeline error")
)
