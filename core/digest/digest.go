package digest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gowebpki/jcs"
)

// Content returns the sha256 hex digest of a raw content body.
func Content(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// JSON canonicalizes JSON (RFC 8785) and returns a sha256 hex digest, so
// equivalent documents always hash identically.
func JSON(input []byte) (string, error) {
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Chain returns the digest of an audit entry linked to its predecessor:
// sha256 over the previous entry digest concatenated with the canonical
// JSON of the current entry.
func Chain(prevDigest string, entryJSON []byte) (string, error) {
	canonical, err := CanonicalJSON(entryJSON)
	if err != nil {
		return "", err
	}
	hashWriter := sha256.New()
	hashWriter.Write([]byte(prevDigest))
	hashWriter.Write(canonical)
	return hex.EncodeToString(hashWriter.Sum(nil)), nil
}
