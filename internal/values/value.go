package values

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies which interpretation of a byte string was chosen.
type Kind int

const (
	// KindJSON means the bytes parsed as textual JSON.
	KindJSON Kind = iota
	// KindMsgPack means the bytes parsed as MessagePack but not as text.
	KindMsgPack
	// KindString means the bytes are valid UTF-8 but not JSON.
	KindString
	// KindBytes is the fallback for everything else.
	KindBytes
)

var kindNames = map[Kind]string{
	KindJSON:    "Json",
	KindMsgPack: "MsgPack",
	KindString:  "String",
	KindBytes:   "Bytes",
}

// String returns the display name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText lets kinds be used as JSON object keys and values.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Value is a classified byte string. Exactly one payload field is meaningful,
// selected by Kind:
//   - KindJSON, KindMsgPack: Tree holds the decoded JSON-like tree
//     (map[string]any, []any, json.Number, string, bool or nil)
//   - KindString: Text
//   - KindBytes: Raw
type Value struct {
	Kind Kind
	Tree any
	Text string
	Raw  []byte
}

// Compact renders the value on a single line. Structured values are
// serialized compactly, text is quoted and bytes are lowercase hex with a
// 0x prefix.
func (v Value) Compact() string {
	switch v.Kind {
	case KindJSON, KindMsgPack:
		return encodeTree(v.Tree, "")
	case KindString:
		return strconv.Quote(v.Text)
	default:
		return "0x" + hex.EncodeToString(v.Raw)
	}
}

// Long renders structured values pretty-printed with two-space
// indentation. Text and bytes render the same as Compact.
func (v Value) Long() string {
	switch v.Kind {
	case KindJSON, KindMsgPack:
		return encodeTree(v.Tree, "  ")
	default:
		return v.Compact()
	}
}

// MarshalJSON emits the kind together with both renderings.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Compact string `json:"compact"`
		Long    string `json:"long"`
	}{v.Kind, v.Compact(), v.Long()})
}

// encodeTree never fails for trees produced by Classify: every node is one of
// the types encoding/json handles natively.
func encodeTree(tree any, indent string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(tree); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
