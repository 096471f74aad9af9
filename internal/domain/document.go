package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DesignPrefix marks documents that hold index definitions rather than data.
const DesignPrefix = "_design/"

// Document is the generic unit the store persists. Reserved members
// (_id, _rev, _deleted) live in dedicated fields; everything else is in Fields.
type Document struct {
	ID      string
	Rev     string
	Deleted bool
	Fields  map[string]any
}

// NewDocument converts any JSON-serializable value into a Document. Numbers
// are normalized to float64 the same way a stored document reads back.
func NewDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// MarshalJSON flattens the reserved members into the body.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		out[k] = v
	}
	if d.ID != "" {
		out["_id"] = d.ID
	}
	if d.Rev != "" {
		out["_rev"] = d.Rev
	}
	if d.Deleted {
		out["_deleted"] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the reserved members out of the body.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
			d.ID, _ = v.(string)
		case "_rev":
			d.Rev, _ = v.(string)
		case "_deleted":
			d.Deleted, _ = v.(bool)
		default:
			d.Fields[k] = v
		}
	}
	return nil
}

// Body returns the JSON encoding of Fields alone, as engines store it.
func (d Document) Body() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Fields)
}

// Field resolves a dotted path ("a.b.c") inside Fields.
func (d Document) Field(path string) (any, bool) {
	var cur any = d.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// IsDesign reports whether the document holds index definitions.
func (d Document) IsDesign() bool {
	return strings.HasPrefix(d.ID, DesignPrefix)
}

// Clone returns a deep copy, so callers cannot mutate engine state.
func (d Document) Clone() Document {
	out := d
	out.Fields = cloneMap(d.Fields)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// WriteResult reports the outcome of one document write.
type WriteResult struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	Rev   string `json:"rev,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Failed builds the per-document result for a rejected write.
func Failed(id string, err error) WriteResult {
	return WriteResult{ID: id, Error: err.Error(), Err: err}
}
