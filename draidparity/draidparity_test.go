package draidparity

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildRow(ndata, nparity, colSize int, seed int64) [][]byte {
	r := rand.New(rand.NewSource(seed))
	row := make([][]byte, ndata+nparity)
	for i := 0; i < nparity; i++ {
		row[i] = make([]byte, colSize)
	}
	for i := nparity; i < ndata+nparity; i++ {
		data := make([]byte, colSize)
		r.Read(data)
		row[i] = data
	}
	return row
}

func TestNewCodec_RejectsInvalidCounts(t *testing.T) {
	_, err := NewCodec(0, 1)
	assert.Error(t, err)
	_, err = NewCodec(4, 0)
	assert.Error(t, err)
}

func TestEncodeReconstruct_SingleColumnLoss(t *testing.T) {
	codec, err := NewCodec(8, 1)
	assert.NoError(t, err)

	row := buildRow(8, 1, 4096, 1)
	assert.NoError(t, codec.Encode(row))

	original := append([]byte(nil), row[3]...)
	row[3] = nil

	assert.NoError(t, codec.Reconstruct(row))
	assert.True(t, bytes.Equal(original, row[3]))
}

func TestReconstruct_TooManyMissingFails(t *testing.T) {
	codec, err := NewCodec(8, 1)
	assert.NoError(t, err)

	row := buildRow(8, 1, 4096, 2)
	assert.NoError(t, codec.Encode(row))

	row[2] = nil
	row[5] = nil // 2 missing > nparity(1)

	err = codec.Reconstruct(row)
	assert.Error(t, err)
}

func TestReconstruct_NoMissingIsNoop(t *testing.T) {
	codec, err := NewCodec(4, 2)
	assert.NoError(t, err)

	row := buildRow(4, 2, 512, 3)
	assert.NoError(t, codec.Encode(row))
	assert.NoError(t, codec.Reconstruct(row))
}

func TestEncode_ParityColumnLeadsRowMapOrder(t *testing.T) {
	codec, err := NewCodec(4, 2)
	assert.NoError(t, err)
	assert.Equal(t, 4, codec.NData())
	assert.Equal(t, 2, codec.NParity())

	row := buildRow(4, 2, 256, 4)
	assert.NoError(t, codec.Encode(row))

	for i := 0; i < 2; i++ {
		assert.Len(t, row[i], 256)
		// buildRow left the parity columns zeroed; Encode must have
		// written parity into the leading columns.
		assert.NotEqual(t, make([]byte, 256), row[i])
	}
}
