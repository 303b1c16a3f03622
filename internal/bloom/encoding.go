package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Encoded is the JSON form of a filter inside an artifact sidecar.
type Encoded struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"num_bits"`
	NumHashes int    `json:"num_hashes"`
	Count     uint64 `json:"count"`
	// Data is base64(snappy(bit array, little-endian words)).
	Data string `json:"data"`
}

const algorithm = "murmur3_128_snappy"

// Encode compresses the filter for storage.
func (f *EntityFilter) Encode() *Encoded {
	raw := make([]byte, len(f.bits)*8)
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], w)
	}
	return &Encoded{
		Algorithm: algorithm,
		NumBits:   int(f.numBits),
		NumHashes: int(f.numHashes),
		Count:     f.count,
		Data:      base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw)),
	}
}

// Decode rebuilds a filter from its encoded form.
func Decode(e *Encoded) (*EntityFilter, error) {
	if e == nil {
		return nil, errors.New("bloom: nil encoded filter")
	}
	if e.Algorithm != algorithm {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", e.Algorithm)
	}
	if e.NumBits <= 0 || e.NumHashes <= 0 || e.NumBits%64 != 0 {
		return nil, fmt.Errorf("bloom: invalid parameters bits=%d hashes=%d", e.NumBits, e.NumHashes)
	}

	compressed, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64 data: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decompress failed: %w", err)
	}

	words := e.NumBits / 64
	if len(raw) != words*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", words*8, len(raw))
	}
	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}

	return &EntityFilter{
		bits:      bits,
		numBits:   uint64(e.NumBits),
		numHashes: uint64(e.NumHashes),
		count:     e.Count,
	}, nil
}
