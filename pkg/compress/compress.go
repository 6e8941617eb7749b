// Package compress provides the transparent, threshold-based payload
// compression described in spec §4.A. Payloads above
// compression_threshold_bytes are compressed with klauspost/compress's S2
// codec (a fast streaming codec derived from Snappy); smaller payloads are
// stored verbatim. A flag recorded alongside the payload (not the stored
// length) decides whether Decode runs, which avoids the source system's
// fragility where a changed threshold at restart made old records
// undecodable.
package compress

import (
	"github.com/klauspost/compress/s2"
)

// Encode compresses src if its length exceeds threshold, returning the
// resulting bytes and whether compression was applied.
func Encode(src []byte, threshold int) (out []byte, compressed bool) {
	if threshold < 0 || len(src) <= threshold {
		return src, false
	}
	return s2.Encode(nil, src), true
}

// Decode reverses Encode. compressed must be the flag Encode returned (or
// the flag persisted alongside the record), not a length comparison.
func Decode(src []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return src, nil
	}
	return s2.Decode(nil, src)
}
