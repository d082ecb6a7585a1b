package vtypes

import (
	"strings"

	"github.com/google/uuid"
)

// Connections is the per-level neighbor set of an HNSW node, persisted
// with the vector record (spec §3, §6: `connections:{"0":["id",…],...}`).
type Connections map[int][]string

// NounVectorRecord is the HNSW-node half of a noun (spec §3).
type NounVectorRecord struct {
	ID          string      `json:"id"`
	Vector      Vector      `json:"vector"`
	Connections Connections `json:"connections"`
	Level       int         `json:"level"`
}

// VerbVectorRecord is the HNSW-node half of a verb (spec §3).
type VerbVectorRecord struct {
	ID          string      `json:"id"`
	Vector      Vector      `json:"vector"`
	Connections Connections `json:"connections"`
	Verb        VerbType    `json:"verb"`
	SourceID    string      `json:"sourceId"`
	TargetID    string      `json:"targetId"`
}

// NewID generates a fresh UUIDv4, valid for client- or server-side
// assignment (spec §4.1 lifecycle).
func NewID() string {
	return uuid.New().String()
}

// IsValidID reports whether s is a canonical, hyphenated UUIDv4 (spec
// §4.2 routing rule: "A UUIDv4 (case-insensitive canonical hyphenated
// form) ⇒ entity path with shard").
func IsValidID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && strings.EqualFold(id.String(), s)
}

// Shard returns the two-hex-character shard prefix of a UUID (spec §3,
// §6: "first two hex chars of the UUID (256 shards)").
func Shard(id string) string {
	s := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(s) < 2 {
		return "00"
	}
	return s[:2]
}
