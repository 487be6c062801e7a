package receipts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ContentHash returns the SHA-256 of the JCS (RFC 8785) canonical form of
// the receipt. Two receipts with identical content hash identically no
// matter the field order or whitespace of their JSON encoding; the emission
// overflow queue uses this to suppress re-enqueue of identical payloads.
func ContentHash(r *Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize receipt: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
