package pipeline

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrInit          = errors.ErrInitApp
	ErrProcessing    = errors.ErrMainLoop
	ErrShapeMismatch = errors.ErrShapeMismatch
	ErrStopTimeout   = errors.ErrTimeout
	ErrStart         = errors.ErrorCode("pipeline_start_failed")
)
