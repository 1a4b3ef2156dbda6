package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes normalized chunk text for deduplication. Chunks
// with equal fingerprints are stored as separate rows (position matters
// for citation) but share a single embedding computation.
//
// Normalization: lowercase, whitespace runs collapsed to single spaces.
func Fingerprint(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
