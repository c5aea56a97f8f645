package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText lowercases text and collapses all runs of whitespace to a
// single space. Document identity is computed over the normalised form so
// that passages differing only in casing or whitespace map to the same ID.
func NormalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// DocumentID returns the stable identifier for a passage: the first 32 hex
// characters of sha256 over the normalised text. Deterministic, so
// re-ingesting identical content is idempotent.
func DocumentID(text string) string {
	h := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(h[:16])
}
