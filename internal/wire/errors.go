package wire

import "codeberg.org/mutker/eegstreamd/internal/errors"

const (
	ErrMalformedMessage = errors.ErrMalformedMessage
	ErrOversizePayload  = errors.ErrOversizePayload
	ErrEncode           = errors.ErrorCode("wire_encode_failed")
	ErrEmptyBatch       = errors.ErrorCode("wire_empty_batch")
)
