package wire

import (
	"fmt"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/features"
)

// Reassembler collects the chunks of one batch back into rows. A chunk that
// starts a new batch (different total) discards any partial batch.
type Reassembler struct {
	total    int
	rows     [][]float64
	filled   []bool
	received int
	features *features.Set
}

// Add stores a chunk and returns the complete batch once every row has
// arrived.
func (r *Reassembler) Add(c *EEGChunk) ([][]float64, *features.Set, bool, error) {
	if c.StartSample < 0 || c.EndSample > c.TotalSamples || c.StartSample >= c.EndSample ||
		len(c.EEGData) != c.EndSample-c.StartSample {
		return nil, nil, false, errors.New().WithData(ErrMalformedMessage,
			fmt.Sprintf("chunk [%d,%d) of %d with %d rows", c.StartSample, c.EndSample, c.TotalSamples, len(c.EEGData)))
	}

	if r.rows == nil || r.total != c.TotalSamples {
		r.Reset()
		r.total = c.TotalSamples
		r.rows = make([][]float64, c.TotalSamples)
		r.filled = make([]bool, c.TotalSamples)
	}

	for i, row := range c.EEGData {
		idx := c.StartSample + i
		if !r.filled[idx] {
			r.filled[idx] = true
			r.received++
		}
		r.rows[idx] = row
	}
	if c.Features != nil {
		r.features = c.Features
	}

	if r.received < r.total {
		return nil, nil, false, nil
	}

	rows, set := r.rows, r.features
	r.Reset()

	return rows, set, true, nil
}

func (r *Reassembler) Reset() {
	r.total = 0
	r.rows = nil
	r.filled = nil
	r.received = 0
	r.features = nil
}
