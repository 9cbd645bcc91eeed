package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"
)

// EncodeUQ128x128 encodes a UQ128x128 value as a fixed 32-byte big-endian
// word. The integer part occupies the first 16 bytes.
func EncodeUQ128x128(value *uint256.Int) []byte {
	word := Clone(value).Bytes32()
	return word[:]
}

// DecodeUQ128x128 decodes a value written by EncodeUQ128x128. An empty slice
// decodes to zero so freshly created records need no special casing.
func DecodeUQ128x128(data []byte) (*uint256.Int, error) {
	if len(data) == 0 {
		return new(uint256.Int), nil
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("fixedpoint: UQ128x128 must be 32 bytes, got %d", len(data))
	}
	return new(uint256.Int).SetBytes32(data), nil
}
