package transport

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrConnectionSetup = errors.ErrConnectionSetup
	ErrTransientSend   = errors.ErrTransientSend
	ErrOversizePayload = errors.ErrOversizePayload
	ErrNotConnected    = errors.ErrNotConnected
	ErrBind            = errors.ErrorCode("transport_bind_failed")
	ErrStopTimeout     = errors.ErrTimeout
)
