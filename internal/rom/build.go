// Package rom builds and serves the memory-hard ROM used by the
// solver's batch hash primitive. Construction follows a two-step
// scheme: a small pre-table is derived from the challenge key via
// chained BLAKE3 hashing, then expanded to the full ROM size through
// several strided mixing passes, the same shape of pipeline as the
// scratchpad mixing stages used elsewhere in this codebase's hash
// primitives, scaled from a per-call scratchpad up to a shared,
// cacheable ROM.
package rom

import (
	"encoding/binary"
	"fmt"

	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/zeebo/blake3"
)

const (
	// DefaultSize is the default full ROM size in bytes (1 GiB).
	DefaultSize = 1 << 30
	// DefaultPreSize is the default pre-table size in bytes (16 MiB).
	DefaultPreSize = 16 << 20
	// DefaultMixingNumbers is the default count of strided mixing passes.
	DefaultMixingNumbers = 4
)

var mixStrides = [4]int{1, 64, 256, 1024}

// ROM is a built, immutable memory-hard table keyed by a challenge's
// no_pre_mine value, exposing batch hashing over it.
type ROM struct {
	Key           string
	data          []byte
	mixingNumbers int
}

// SizeBytes returns the ROM's resident size, for status reporting.
func (r *ROM) SizeBytes() int64 { return int64(len(r.data)) }

// BuildTwoStep constructs a ROM of size bytes for key, deriving a
// preSize-byte seed table first and expanding it via mixingNumbers
// strided mixing passes.
func BuildTwoStep(key string, size, preSize int64, mixingNumbers int) (*ROM, error) {
	if size <= 0 || preSize <= 0 || preSize > size {
		return nil, fmt.Errorf("rom: invalid size parameters (size=%d preSize=%d)", size, preSize)
	}
	if mixingNumbers <= 0 {
		mixingNumbers = DefaultMixingNumbers
	}

	preTable, err := buildPreTable(key, preSize)
	if err != nil {
		return nil, fmt.Errorf("rom: building pre-table: %w", err)
	}

	data := make([]byte, size)
	for off := int64(0); off < size; {
		n := copy(data[off:], preTable)
		off += int64(n)
	}

	for pass := 0; pass < mixingNumbers; pass++ {
		stride := mixStrides[pass%len(mixStrides)]
		mixPass(data, stride, pass)
	}

	return &ROM{Key: key, data: data, mixingNumbers: mixingNumbers}, nil
}

// buildPreTable derives a preSize-byte table from key via chained
// BLAKE3 digests: each 32-byte block is seeded from the previous
// block's digest plus the key, so the table has no short cycles.
func buildPreTable(key string, preSize int64) ([]byte, error) {
	table := make([]byte, preSize)
	seed := blake3.Sum256([]byte(key))
	prev := seed[:]
	for off := int64(0); off < preSize; off += 32 {
		h := blake3.New()
		h.Write(prev)
		h.Write([]byte(key))
		digest := h.Sum(nil)
		n := copy(table[off:], digest)
		prev = digest[:n]
	}
	return table, nil
}

// mixPass performs one strided XOR-rotate mixing pass over data
// treated as a sequence of 8-byte words, combining each word with the
// word `stride` positions ahead and mixing in the pass index so
// successive passes do not cancel out.
func mixPass(data []byte, stride, pass int) {
	words := len(data) / 8
	if words == 0 {
		return
	}
	strideWords := stride % words
	if strideWords == 0 {
		strideWords = 1
	}
	seedMix := uint64(0x9E3779B97F4A7C15) + uint64(pass)*0xBF58476D1CE4E5B9
	for i := 0; i < words; i++ {
		j := (i + strideWords) % words
		a := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		b := binary.LittleEndian.Uint64(data[j*8 : j*8+8])
		v := (a ^ b ^ seedMix)
		v = (v << 13) | (v >> (64 - 13))
		binary.LittleEndian.PutUint64(data[i*8:i*8+8], v)
	}
}

// HashBatch computes the memory-hard digest of each preimage in order.
// Every digest makes mixingNumbers reads from ROM blocks chosen by the
// running state, folding each read into it before a final BLAKE3 compression,
// giving each hash an access pattern spanning the full ROM.
func (r *ROM) HashBatch(preimages []string) ([][]byte, error) {
	out := make([][]byte, len(preimages))
	blocks := len(r.data) / 32
	if blocks == 0 {
		return nil, fmt.Errorf("rom: empty ROM for key %s", r.Key)
	}
	for i, p := range preimages {
		h := blake3.New()
		h.Write([]byte(p))
		state := h.Sum(nil)

		for pass := 0; pass < r.mixingNumbers; pass++ {
			block := (binary.LittleEndian.Uint64(state[:8]) % uint64(blocks)) * 32
			chunk := r.data[block : block+32]
			mixed := make([]byte, 32)
			for j := 0; j < 32; j++ {
				mixed[j] = state[j] ^ chunk[j]
			}
			h2 := blake3.New()
			h2.Write(mixed)
			state = h2.Sum(nil)
		}
		final := blake3.Sum256(state)
		out[i] = final[:]
	}
	return out, nil
}

var _ domain.Rom = (*ROM)(nil)
