package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey digests a raw API key the way issued keys are stored at rest.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
