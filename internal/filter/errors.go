package filter

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrDesign        = errors.ErrorCode("filter_design_failed")
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrShapeMismatch = errors.ErrShapeMismatch
	ErrNumericFault  = errors.ErrNumericFault
)
