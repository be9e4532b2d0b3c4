package store

import (
	"encoding/base64"
	"fmt"
)

// EncodeArtifact converts binary artifact data to a text-safe form for the
// string-only store.
func EncodeArtifact(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeArtifact is the inverse of EncodeArtifact.
func DecodeArtifact(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return data, nil
}
