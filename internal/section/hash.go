package section

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for an
// algorithm change without colliding with stored values.
const (
	DomainSection = "casework/section/v1"
	DomainRecord  = "casework/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of one section's data.
func Hash(d Data) (string, error) {
	raw, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("hash section: %w", err)
	}
	return hashWithDomain(DomainSection, raw), nil
}

// HashRecord hashes a whole set of sections keyed by name. Two records with
// the same sections hash equal regardless of the order they were written in.
func HashRecord(sections map[string]Data) (string, error) {
	obj := make(map[string]any, len(sections))
	for name, d := range sections {
		obj[name] = map[string]any(d)
	}
	raw, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("hash record: %w", err)
	}
	return hashWithDomain(DomainRecord, raw), nil
}
