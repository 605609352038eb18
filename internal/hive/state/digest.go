package state

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the sha256 hex digest of the tree's canonical JSON form.
// Structurally equal trees digest identically regardless of key insertion
// order; the digest of the empty tree is still a valid digest, the caller
// decides whether an unset checksum means "no prior state".
func Digest(t Tree) string {
	b, err := t.MarshalJSON()
	if err != nil {
		// The closed union cannot produce an unencodable value; a failure
		// here means memory corruption, not bad input.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestAny digests an arbitrary decoded-JSON value, signalling
// ErrMalformedState when it cannot be represented as a tree.
func DigestAny(m map[string]any) (string, error) {
	t, err := TreeFromAny(m)
	if err != nil {
		return "", err
	}
	return Digest(t), nil
}
