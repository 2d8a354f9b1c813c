// Package showcase provides shared primitives for the showcase-cache service.
package showcase

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ETagSize is the number of digest bytes used in an entity tag.
const ETagSize = 16

// ETag computes a strong entity tag for a response body using BLAKE3.
// The tag is stable for identical bodies, so clients can revalidate
// cached widget payloads with If-None-Match.
func ETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:ETagSize]) + `"`
}
