package mandate

import (
	"encoding/json"
)

// Kind tags the shape an upstream field arrived in.
type Kind int

const (
	KindAbsent Kind = iota
	KindText
	KindMapping
	KindSequence
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindText:
		return "text"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "other"
	}
}

// Field holds a loosely-typed upstream value. The zero value is an absent
// field, so a struct member left out of a JSON payload needs no handling.
type Field struct {
	kind    Kind
	text    string
	mapping map[string]any
	seq     []any
	other   any
}

func Absent() Field { return Field{} }

func Text(s string) Field { return Field{kind: KindText, text: s} }

func Mapping(m map[string]any) Field {
	if m == nil {
		return Field{}
	}
	return Field{kind: KindMapping, mapping: m}
}

func Sequence(items []any) Field {
	if items == nil {
		return Field{}
	}
	return Field{kind: KindSequence, seq: items}
}

// Strings is a convenience for the common human-messages case.
func Strings(items ...string) Field {
	seq := make([]any, len(items))
	for i, s := range items {
		seq[i] = s
	}
	return Field{kind: KindSequence, seq: seq}
}

func (f Field) Kind() Kind { return f.kind }

// UnmarshalJSON sorts the raw value into one of the variants. It only fails
// on malformed JSON, which the enclosing decoder would reject anyway.
func (f *Field) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = fromValue(v)
	return nil
}

// MarshalJSON writes the field back in the shape it arrived in.
func (f Field) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case KindText:
		return json.Marshal(f.text)
	case KindMapping:
		return json.Marshal(f.mapping)
	case KindSequence:
		return json.Marshal(f.seq)
	case KindOther:
		return json.Marshal(f.other)
	default:
		return []byte("null"), nil
	}
}

func fromValue(v any) Field {
	switch t := v.(type) {
	case nil:
		return Absent()
	case string:
		return Text(t)
	case map[string]any:
		return Mapping(t)
	case []any:
		return Sequence(t)
	case []string:
		return Strings(t...)
	default:
		return Field{kind: KindOther, other: t}
	}
}
