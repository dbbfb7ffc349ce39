package acquisition

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrInvalidSource  = errors.ErrorCode("acquisition_invalid_config")
	ErrAlreadyRunning = errors.ErrAlreadyRunning
	ErrStopTimeout    = errors.ErrTimeout
)
