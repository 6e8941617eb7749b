// Package digest computes the content digest stored in a resource's
// metadata (spec §3: "content digest equals the digest of the uncompressed
// payload"). xxhash is used rather than a cryptographic hash because the
// digest here is an integrity/change check inside a single trusted process,
// not a security boundary, and the core's latency budget is in the tens of
// milliseconds.
package digest

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest is the content digest of an uncompressed payload, formatted as a
// fixed-width hex string so it sorts and compares cheaply.
type Digest string

// Of computes the digest of uncompressed payload bytes.
func Of(payload []byte) Digest {
	sum := xxhash.Sum64(payload)
	return Digest(fmt.Sprintf("%016x", sum))
}

// Verify reports whether payload's digest matches want.
func Verify(payload []byte, want Digest) bool {
	return Of(payload) == want
}
