package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 characters, enough to tell models apart in logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Fingerprint hashes a metadata map. encoding/json sorts map keys, so equal
// maps always produce the same fingerprint.
func Fingerprint(md map[string]interface{}) (Hash, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("fingerprint metadata: %w", err)
	}
	return NewHash(data), nil
}
