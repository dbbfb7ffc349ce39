package ringbuffer

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrInvalidCapacity = errors.ErrorCode("ringbuffer_invalid_capacity")
	ErrInvalidChannels = errors.ErrorCode("ringbuffer_invalid_channels")
	ErrShapeMismatch   = errors.ErrShapeMismatch
	ErrNumericFault    = errors.ErrNumericFault
	ErrChannelIndex    = errors.ErrInvalidArgument
)
