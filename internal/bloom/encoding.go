package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Algorithm names the hashing scheme recorded in sidecars.
const Algorithm = "murmur3_128_double"

const headerSize = 24

// Encoded is the JSON form of a filter: header fields plus the
// snappy-compressed bit array, base64 encoded.
type Encoded struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"num_bits"`
	NumHashes int    `json:"num_hashes"`
	Count     uint64 `json:"count"`
	Data      string `json:"data"`
}

// MarshalBinary lays out m, k and count as little-endian uint64s followed by
// the snappy-compressed bit array.
func (f *Filter) MarshalBinary() ([]byte, error) {
	raw := make([]byte, len(f.words)*8)
	for i, w := range f.words {
		binary.LittleEndian.PutUint64(raw[i*8:], w)
	}
	compressed := snappy.Encode(nil, raw)

	buf := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:], f.m)
	binary.LittleEndian.PutUint64(buf[8:], f.k)
	binary.LittleEndian.PutUint64(buf[16:], f.count)
	copy(buf[headerSize:], compressed)
	return buf, nil
}

// UnmarshalBinary restores a filter written by MarshalBinary.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return errors.New("bloom: encoded filter too short")
	}
	m := binary.LittleEndian.Uint64(data[0:])
	k := binary.LittleEndian.Uint64(data[8:])
	count := binary.LittleEndian.Uint64(data[16:])
	if m == 0 || m%64 != 0 || k == 0 {
		return fmt.Errorf("bloom: invalid parameters m=%d k=%d", m, k)
	}

	raw, err := snappy.Decode(nil, data[headerSize:])
	if err != nil {
		return fmt.Errorf("bloom: snappy decode: %w", err)
	}
	if uint64(len(raw)) != m/8 {
		return fmt.Errorf("bloom: expected %d bytes of bits, got %d", m/8, len(raw))
	}

	words := make([]uint64, m/64)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	f.words, f.m, f.k, f.count = words, m, k, count
	return nil
}

// Encode returns the sidecar form of f.
func (f *Filter) Encode() (*Encoded, error) {
	data, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Encoded{
		Algorithm: Algorithm,
		NumBits:   f.NumBits(),
		NumHashes: f.NumHashes(),
		Count:     f.count,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Decode restores a filter from its sidecar form.
func Decode(e *Encoded) (*Filter, error) {
	if e == nil {
		return nil, errors.New("bloom: nil encoded filter")
	}
	if e.Algorithm != "" && e.Algorithm != Algorithm {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", e.Algorithm)
	}
	data, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64: %w", err)
	}
	f := &Filter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
