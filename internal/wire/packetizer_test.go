package wire_test

import (
	"math/rand"
	"testing"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/transmit"
	"codeberg.org/mutker/eegstreamd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBatch(rows, channels int) transmit.Batch {
	rng := rand.New(rand.NewSource(7))
	b := transmit.Batch{Samples: make([][]float64, rows), Timestamps: make([]float64, rows)}
	for i := range b.Samples {
		b.Samples[i] = make([]float64, channels)
		for c := range b.Samples[i] {
			b.Samples[i][c] = rng.NormFloat64() * 100
		}
		b.Timestamps[i] = float64(i) / 250
	}
	return b
}

func TestPackageSmallBatchIsOneFullPacket(t *testing.T) {
	p := wire.NewPacketizer(1400, wire.NewCodec(6), wire.WithSessionID("session-1"))

	batch := transmit.Batch{Samples: [][]float64{{1, 2}, {3, 4}, {5, 6}}}
	packets, err := p.Package(batch)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, wire.KindHeader, packets[0].Kind)
	assert.Equal(t, wire.KindFull, packets[1].Kind)

	msg, err := wire.Decode(packets[0].Payload)
	require.NoError(t, err)
	header := msg.(*wire.TransmissionHeader)
	assert.Equal(t, 3, header.TotalSamples)
	assert.Equal(t, 2, header.Channels)
	assert.False(t, header.HasFeatures)
	assert.Equal(t, "session-1", header.Metadata.SessionID)

	msg, err = wire.Decode(packets[1].Payload)
	require.NoError(t, err)
	data := msg.(*wire.EEGData)
	assert.Equal(t, batch.Samples, data.EEGData)
	assert.Equal(t, 3, data.SampleCount)
	assert.Equal(t, 2, data.ChannelCount)
	assert.Equal(t, uint64(1), data.Metadata.Sequence)

	_, err = p.Package(batch)
	require.NoError(t, err)
}

func TestPackageLargeBatchChunksCoverRange(t *testing.T) {
	const maxSize = 1400
	p := wire.NewPacketizer(maxSize, wire.NewCodec(6))

	batch := randomBatch(120, 8)
	batch.Features = sampleSet()

	packets, err := p.Package(batch)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(packets), 3, "header plus at least two chunks")

	msg, err := wire.Decode(packets[0].Payload)
	require.NoError(t, err)
	assert.True(t, msg.(*wire.TransmissionHeader).HasFeatures)

	var r wire.Reassembler
	next := 0
	for i, pkt := range packets[1:] {
		require.Equal(t, wire.KindChunk, pkt.Kind)

		msg, err := wire.Decode(pkt.Payload)
		require.NoError(t, err)
		chunk := msg.(*wire.EEGChunk)

		assert.Equal(t, next, chunk.StartSample, "chunks are contiguous")
		assert.Greater(t, chunk.EndSample, chunk.StartSample)
		assert.Equal(t, 120, chunk.TotalSamples)
		assert.Equal(t, pkt.Start, chunk.StartSample)
		assert.Equal(t, pkt.End, chunk.EndSample)
		next = chunk.EndSample

		if i == 0 {
			assert.NotNil(t, chunk.Features)
		} else {
			assert.Nil(t, chunk.Features)
			assert.LessOrEqual(t, len(pkt.Payload), maxSize)
		}

		rows, set, done, err := r.Add(chunk)
		require.NoError(t, err)
		if done {
			assert.Equal(t, batch.Samples, rows)
			assert.Equal(t, batch.Features, set)
		}
	}
	assert.Equal(t, 120, next, "chunks cover the batch")
}

func TestPackageChunksWithoutFeaturesFitBudget(t *testing.T) {
	const maxSize = 900
	p := wire.NewPacketizer(maxSize, wire.NewCodec(1))

	packets, err := p.Package(randomBatch(64, 8))
	require.NoError(t, err)

	for _, pkt := range packets[1:] {
		assert.LessOrEqual(t, len(pkt.Payload), maxSize)
	}
}

func TestPackageOversizeRow(t *testing.T) {
	p := wire.NewPacketizer(16, wire.NewCodec(6))

	_, err := p.Package(randomBatch(4, 8))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrOversizePayload))
}

func TestPackageFeatureLimit(t *testing.T) {
	p := wire.NewPacketizer(1400, wire.NewCodec(6), wire.WithFeatureLimit(200))

	batch := randomBatch(60, 8)
	batch.Features = sampleSet()

	_, err := p.Package(batch)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrOversizePayload))
}

func TestPackageEmptyBatch(t *testing.T) {
	p := wire.NewPacketizer(1400, wire.NewCodec(6))

	_, err := p.Package(transmit.Batch{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, wire.ErrEmptyBatch))
}

func TestReassemblerRejectsBadRange(t *testing.T) {
	var r wire.Reassembler

	_, _, _, err := r.Add(&wire.EEGChunk{StartSample: 3, EndSample: 2, TotalSamples: 4})
	require.Error(t, err)

	_, _, _, err = r.Add(&wire.EEGChunk{StartSample: 0, EndSample: 2, TotalSamples: 4, EEGData: [][]float64{{1}}})
	require.Error(t, err)
}
