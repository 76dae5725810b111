// Package fingerprint deduplicates expressions by their behavior on a fixed
// input battery. Equal keys are a sound but incomplete proxy for semantic
// equivalence.
//
// Package fingerprint は固定入力集合上の振る舞いによって数式の重複を除去します。
package fingerprint

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/sw965/banditformula/canonical"
	"github.com/sw965/banditformula/expr"
)

// Sample holds one input vector per arm. All arms of a sample are compared
// against each other in RankMode.
type Sample [][]float64

type Battery struct {
	Samples []Sample
}

type Mode int

const (
	// RawMode hashes the outputs themselves, rounded to float32 precision.
	RawMode Mode = iota
	// RankMode hashes, per sample, the order of the arms by output and
	// whether each rank is strictly above the previous one.
	RankMode
)

func (m Mode) String() string {
	switch m {
	case RawMode:
		return "raw"
	case RankMode:
		return "rank"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "raw":
		return RawMode, nil
	case "rank":
		return RankMode, nil
	}
	return 0, fmt.Errorf("未知のfingerprintモード: %q", s)
}

// TieTolerance is the gap under which two outputs of a sample share a rank.
const TieTolerance = 1e-12

type Key uint64

// Of computes the fingerprint of the canonical form of e. ok is false when
// any evaluation of e itself, or of its canonical form, on the battery is
// invalid; such formulas must be dropped. Rewrites such as x-x → 0 can turn
// an invalid formula valid, so e is checked before its canonical form.
func Of(e *expr.Node, b Battery, mode Mode) (key Key, ok bool) {
	ce := canonical.Canonicalize(e)
	d := xxhash.New()
	var buf []byte
	values := []float64{}

	for _, sample := range b.Samples {
		values = values[:0]
		for _, inputs := range sample {
			if !expr.IsValid(e.Compute(inputs)) {
				return 0, false
			}
			v := ce.Compute(inputs)
			if !expr.IsValid(v) {
				return 0, false
			}
			values = append(values, v)
		}

		buf = buf[:0]
		switch mode {
		case RawMode:
			for _, v := range values {
				buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		case RankMode:
			buf = appendRanks(buf, values)
		default:
			panic(fmt.Sprintf("BUG: 未知のMode: %v", mode))
		}
		d.Write(buf)
	}
	return Key(d.Sum64()), true
}

// appendRanks writes, in increasing order of value, uvarint(index<<1 | up)
// where up is 1 when the value is strictly above the previous rank.
// Values within TieTolerance form one group ordered by index.
func appendRanks(buf []byte, values []float64) []byte {
	n := len(values)
	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	slices.SortFunc(idxs, func(i, j int) int {
		if c := cmp.Compare(values[i], values[j]); c != 0 {
			return c
		}
		return cmp.Compare(i, j)
	})

	start := 0
	for start < n {
		end := start + 1
		for end < n && values[idxs[end]]-values[idxs[end-1]] <= TieTolerance {
			end++
		}
		group := idxs[start:end]
		slices.Sort(group)
		for gi, idx := range group {
			var up uint64
			if gi == 0 && start > 0 {
				up = 1
			}
			buf = binary.AppendUvarint(buf, uint64(idx)<<1|up)
		}
		start = end
	}
	return buf
}
