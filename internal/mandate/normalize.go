package mandate

import (
	"encoding/json"

	"github.com/spf13/cast"
)

const (
	contextFallbackKey = "message"
	detailsFallbackKey = "details"
)

// NormalizeContext turns a conversation-context field into a mapping.
// Text that is not a JSON object is kept under the "message" key.
func NormalizeContext(f Field) map[string]any {
	return normalizeMapping(f, contextFallbackKey)
}

// NormalizeDetails turns an additional-details field into a mapping.
// Text that is not a JSON object is kept under the "details" key.
func NormalizeDetails(f Field) map[string]any {
	return normalizeMapping(f, detailsFallbackKey)
}

func normalizeMapping(f Field, fallbackKey string) map[string]any {
	switch f.kind {
	case KindAbsent:
		return map[string]any{}
	case KindMapping:
		return f.mapping
	case KindText:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(f.text), &decoded); err != nil || decoded == nil {
			return map[string]any{fallbackKey: f.text}
		}
		return decoded
	case KindSequence:
		return map[string]any{fallbackKey: f.seq}
	default:
		return map[string]any{fallbackKey: f.other}
	}
}

// NormalizeMessages turns a human-messages field into a list of strings.
func NormalizeMessages(f Field) []string {
	switch f.kind {
	case KindAbsent:
		return []string{}
	case KindText:
		return []string{f.text}
	case KindSequence:
		out := make([]string, 0, len(f.seq))
		for _, item := range f.seq {
			out = append(out, stringify(item))
		}
		return out
	case KindMapping:
		return []string{stringify(f.mapping)}
	default:
		return []string{stringify(f.other)}
	}
}

// stringify renders scalars with cast and anything structured as JSON.
func stringify(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
