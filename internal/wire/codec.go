package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

// Frame format tags. A frame is a tag byte followed by the body; a frame
// that starts with '{' has no tag and is plain JSON.
const (
	TagCompressed byte = 'Z'
	TagPlain      byte = 'J'

	legacyPlain byte = '{'
)

const DefaultCompressionLevel = 6

// Codec frames messages as JSON, zlib-compressed and base64-encoded behind a
// format tag.
type Codec struct {
	level int
}

// NewCodec clamps level to 1-9.
func NewCodec(level int) *Codec {
	return &Codec{level: min(9, max(1, level))}
}

func (c *Codec) Level() int {
	return c.level
}

// Encode returns a compressed frame.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, c.level)
	if err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}
	if _, err := zw.Write(body); err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}

	frame := make([]byte, 1+base64.StdEncoding.EncodedLen(compressed.Len()))
	frame[0] = TagCompressed
	base64.StdEncoding.Encode(frame[1:], compressed.Bytes())

	return frame, nil
}

// EncodePlain returns an uncompressed, tagged frame.
func (c *Codec) EncodePlain(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}

	return append([]byte{TagPlain}, body...), nil
}

// Marshal returns an untagged plain JSON frame, the form peers that predate
// framing understand.
func Marshal(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.New().Wrap(ErrEncode, err)
	}

	return body, nil
}

// Unframe returns the JSON body of a frame. The tag alone decides how the
// body is read; nothing is guessed.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errors.New().WithData(ErrMalformedMessage, "empty frame")
	}

	switch frame[0] {
	case TagCompressed:
		compressed := make([]byte, base64.StdEncoding.DecodedLen(len(frame)-1))
		n, err := base64.StdEncoding.Decode(compressed, frame[1:])
		if err != nil {
			return nil, errors.New().Wrap(ErrMalformedMessage, err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(compressed[:n]))
		if err != nil {
			return nil, errors.New().Wrap(ErrMalformedMessage, err)
		}
		defer zr.Close()

		body, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.New().Wrap(ErrMalformedMessage, err)
		}
		return body, nil
	case TagPlain:
		return frame[1:], nil
	case legacyPlain:
		return frame, nil
	default:
		return nil, errors.New().WithData(ErrMalformedMessage,
			fmt.Sprintf("unknown frame tag %q", frame[0]))
	}
}

// Decode unframes and parses a message into its concrete type.
func Decode(frame []byte) (Message, error) {
	body, err := Unframe(frame)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.New().Wrap(ErrMalformedMessage, err)
	}

	var msg Message
	switch env.Type {
	case TypeEEGData:
		msg = &EEGData{}
	case TypeEEGFeatures:
		msg = &EEGFeatures{}
	case TypeEEGChunk:
		msg = &EEGChunk{}
	case TypeTransmissionHeader:
		msg = &TransmissionHeader{}
	case TypeStatus:
		msg = &Status{}
	case TypePing, TypeGetStatus, TypeRequestData, TypeConnectionTest:
		msg = &Control{}
	default:
		return nil, errors.New().WithData(ErrMalformedMessage,
			fmt.Sprintf("unknown message type %q", env.Type))
	}

	if err := json.Unmarshal(body, msg); err != nil {
		return nil, errors.New().Wrap(ErrMalformedMessage, err)
	}

	return msg, nil
}
