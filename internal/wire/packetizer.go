package wire

import (
	"fmt"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/features"
	"codeberg.org/mutker/eegstreamd/internal/transmit"
	"github.com/google/uuid"
)

// bytesPerValue is the nominal per-value cost used to size chunks.
const bytesPerValue = 8

// Kind is the role of a packet within one batch.
type Kind int

const (
	KindHeader Kind = iota
	KindFull
	KindChunk
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindFull:
		return "full"
	case KindChunk:
		return "chunk"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Packet is one encoded datagram payload.
type Packet struct {
	Kind    Kind
	Payload []byte
	// Start and End give the sample range of a chunk packet.
	Start int
	End   int
}

// Packetizer turns drained batches into size-bounded packets: a header
// followed by either one full eeg_data packet or a run of eeg_chunk packets.
type Packetizer struct {
	codec      *Codec
	maxSize    int
	maxFeature int
	sessionID  string
	seq        atomic.Uint64
}

type PacketizerOption func(*Packetizer)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) PacketizerOption {
	return func(p *Packetizer) {
		p.sessionID = id
	}
}

// WithFeatureLimit bounds the size of the first chunk when it carries a
// feature set. Defaults to the largest datagram.
func WithFeatureLimit(n int) PacketizerOption {
	return func(p *Packetizer) {
		p.maxFeature = n
	}
}

func NewPacketizer(maxPacketSize int, codec *Codec, opts ...PacketizerOption) *Packetizer {
	p := &Packetizer{
		codec:      codec,
		maxSize:    maxPacketSize,
		maxFeature: MaxDatagramSize,
		sessionID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Packetizer) SessionID() string {
	return p.sessionID
}

// Package encodes a batch. The full packet is used when it fits the
// configured maximum; otherwise rows are split into chunks whose ranges are
// contiguous and cover the batch. Chunk sizes are estimated from the per-row
// cost and halved until every chunk fits. The first chunk also carries the
// feature set, which is exempt from the packet budget but not from the
// datagram limit.
func (p *Packetizer) Package(batch transmit.Batch) ([]Packet, error) {
	total := len(batch.Samples)
	if total == 0 {
		return nil, errors.New().New(ErrEmptyBatch)
	}
	channels := batch.Channels()

	meta := &Metadata{
		ProcessingTimestamp: Timestamp(time.Now()),
		SampleCount:         total,
		ChannelCount:        channels,
		SessionID:           p.sessionID,
		Sequence:            p.seq.Add(1),
	}

	header := &TransmissionHeader{
		Envelope:     envelope(TypeTransmissionHeader),
		TotalSamples: total,
		Channels:     channels,
		HasFeatures:  batch.Features != nil,
		Metadata:     meta,
	}
	headerFrame, err := p.codec.Encode(header)
	if err != nil {
		return nil, err
	}
	packets := []Packet{{Kind: KindHeader, Payload: headerFrame}}

	full, err := p.codec.Encode(NewEEGData(batch.Samples, batch.Features, meta))
	if err != nil {
		return nil, err
	}
	if len(full) <= p.maxSize {
		return append(packets, Packet{Kind: KindFull, Payload: full, End: total}), nil
	}

	chunks, err := p.chunk(batch.Samples, channels, batch.Features)
	if err != nil {
		return nil, err
	}

	return append(packets, chunks...), nil
}

func (p *Packetizer) chunk(rows [][]float64, channels int, set *features.Set) ([]Packet, error) {
	total := len(rows)
	size := max(1, p.maxSize/(max(1, channels)*bytesPerValue))

	var packets []Packet
	for start := 0; start < total; {
		end := min(total, start+size)
		frame, err := p.encodeChunk(rows, start, end, nil)
		if err != nil {
			return nil, err
		}

		if len(frame) > p.maxSize {
			if end-start == 1 {
				return nil, errors.New().WithData(ErrOversizePayload,
					fmt.Sprintf("single row encodes to %d bytes, limit %d", len(frame), p.maxSize))
			}
			size = max(1, (end-start)/2)
			continue
		}

		if start == 0 && set != nil {
			frame, err = p.encodeChunk(rows, start, end, set)
			if err != nil {
				return nil, err
			}
			if len(frame) > p.maxFeature {
				return nil, errors.New().WithData(ErrOversizePayload,
					fmt.Sprintf("first chunk with features encodes to %d bytes, limit %d", len(frame), p.maxFeature))
			}
		}

		packets = append(packets, Packet{Kind: KindChunk, Payload: frame, Start: start, End: end})
		start = end
	}

	return packets, nil
}

func (p *Packetizer) encodeChunk(rows [][]float64, start, end int, set *features.Set) ([]byte, error) {
	return p.codec.Encode(&EEGChunk{
		Envelope:     envelope(TypeEEGChunk),
		StartSample:  start,
		EndSample:    end,
		TotalSamples: len(rows),
		EEGData:      rows[start:end],
		Features:     set,
	})
}
