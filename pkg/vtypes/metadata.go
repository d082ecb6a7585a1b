package vtypes

import (
	"encoding/json"
	"sort"
	"time"
)

// reservedFields is the small namespace promoted to top-level on reads
// and stripped from user-supplied metadata (spec §3, §4.2). User fields
// may not use these names, nor an underscore prefix.
var reservedFields = map[string]bool{
	"noun": true, "verb": true, "createdAt": true, "updatedAt": true,
	"confidence": true, "weight": true, "service": true,
	"createdBy": true, "data": true,
}

// IsReservedField reports whether key is one of the promoted top-level
// fields that may not appear in user metadata.
func IsReservedField(key string) bool {
	if len(key) > 0 && key[0] == '_' {
		return true
	}
	return reservedFields[key]
}

// NounMetadata is the metadata record persisted alongside a noun's
// vector record (spec §3).
type NounMetadata struct {
	ID         string         `json:"id"`
	Noun       NounType       `json:"noun"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Confidence *float64       `json:"confidence,omitempty"`
	Weight     *float64       `json:"weight,omitempty"`
	Service    string         `json:"service,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	User       map[string]any `json:"-"` // promoted on read, stripped on write
}

// VerbMetadata is the metadata record persisted alongside a verb's
// vector record (spec §3). Verb type is denormalized here so counter
// bumps never need a second read (spec §4.2).
type VerbMetadata struct {
	ID         string         `json:"id"`
	Verb       VerbType       `json:"verb"`
	SourceID   string         `json:"sourceId"`
	TargetID   string         `json:"targetId"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Weight     float64        `json:"weight"`
	Confidence *float64       `json:"confidence,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	User       map[string]any `json:"-"`
}

// MarshalJSON flattens reserved fields and User into one object, the
// persisted-layout shape of spec §6.
func (m NounMetadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.User {
		if !IsReservedField(k) {
			out[k] = v
		}
	}
	out["noun"] = m.Noun
	out["createdAt"] = m.CreatedAt
	out["updatedAt"] = m.UpdatedAt
	if m.Confidence != nil {
		out["confidence"] = *m.Confidence
	}
	if m.Weight != nil {
		out["weight"] = *m.Weight
	}
	if m.Service != "" {
		out["service"] = m.Service
	}
	if m.CreatedBy != "" {
		out["createdBy"] = m.CreatedBy
	}
	if m.Data != nil {
		out["data"] = m.Data
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat persisted object back into reserved
// fields and User (spec §4.2: "reserved set of fields... promoted to
// top-level on reads and stripped from user metadata").
func (m *NounMetadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.User = map[string]any{}
	for k, v := range raw {
		switch k {
		case "noun":
			if s, ok := v.(string); ok {
				m.Noun = NounType(s)
			}
		case "createdAt":
			m.CreatedAt = parseTime(v)
		case "updatedAt":
			m.UpdatedAt = parseTime(v)
		case "confidence":
			f := asFloat(v)
			m.Confidence = &f
		case "weight":
			f := asFloat(v)
			m.Weight = &f
		case "service":
			if s, ok := v.(string); ok {
				m.Service = s
			}
		case "createdBy":
			if s, ok := v.(string); ok {
				m.CreatedBy = s
			}
		case "data":
			if dm, ok := v.(map[string]any); ok {
				m.Data = dm
			}
		default:
			m.User[k] = v
		}
	}
	return nil
}

func (m VerbMetadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.User {
		if !IsReservedField(k) {
			out[k] = v
		}
	}
	out["verb"] = m.Verb
	out["sourceId"] = m.SourceID
	out["targetId"] = m.TargetID
	out["createdAt"] = m.CreatedAt
	out["updatedAt"] = m.UpdatedAt
	out["weight"] = m.Weight
	if m.Confidence != nil {
		out["confidence"] = *m.Confidence
	}
	if m.Data != nil {
		out["data"] = m.Data
	}
	return json.Marshal(out)
}

func (m *VerbMetadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.User = map[string]any{}
	for k, v := range raw {
		switch k {
		case "verb":
			if s, ok := v.(string); ok {
				m.Verb = VerbType(s)
			}
		case "sourceId":
			if s, ok := v.(string); ok {
				m.SourceID = s
			}
		case "targetId":
			if s, ok := v.(string); ok {
				m.TargetID = s
			}
		case "createdAt":
			m.CreatedAt = parseTime(v)
		case "updatedAt":
			m.UpdatedAt = parseTime(v)
		case "weight":
			m.Weight = asFloat(v)
		case "confidence":
			f := asFloat(v)
			m.Confidence = &f
		case "data":
			if dm, ok := v.(map[string]any); ok {
				m.Data = dm
			}
		default:
			m.User[k] = v
		}
	}
	return nil
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

// CanonicalJSON serializes v with recursively sorted object keys, the
// deterministic form spec §4.7 requires for version-hashing entities.
func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return marshalCanonical(generic)
}

func marshalCanonical(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := append([]byte{}, '{')
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := append([]byte{}, '[')
		for i, e := range t {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := marshalCanonical(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(t)
	}
}
