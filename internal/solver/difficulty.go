package solver

import (
	"encoding/binary"
	"fmt"

	"github.com/scavenger-mine/orchestrator/internal/util"
)

// ParseDifficultyMask reads the first 4 bytes (8 hex chars) of a
// challenge's difficulty field as a big-endian mask.
func ParseDifficultyMask(difficultyHex string) (uint32, error) {
	if len(difficultyHex) < 8 {
		return 0, fmt.Errorf("difficulty %q shorter than 8 hex chars", difficultyHex)
	}
	b, err := util.HexToBytes(difficultyHex[:8])
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("invalid difficulty prefix %q: %w", difficultyHex[:8], err)
	}
	return binary.BigEndian.Uint32(b), nil
}

// meetsDifficulty reports whether hash's leading 4 bytes satisfy mask:
// every bit that is zero in mask must be zero in the hash, i.e.
// (h0 &^ mask) == 0, equivalently (h0 | mask) == mask.
func meetsDifficulty(hash []byte, mask uint32) bool {
	h0 := binary.BigEndian.Uint32(hash[:4])
	return (h0 | mask) == mask
}
