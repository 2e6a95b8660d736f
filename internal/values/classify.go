package values

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/tinylib/msgp/msgp"
)

// Precedence is the order in which interpretations are attempted. The first
// one that succeeds wins; KindBytes is the fallback when none do.
//
// JSON comes before String because every JSON document is also valid UTF-8.
// MsgPack comes last because almost any short byte string decodes as some
// MessagePack value, so a payload that is both valid UTF-8 and valid
// MessagePack is reported as String.
var Precedence = [...]Kind{KindJSON, KindString, KindMsgPack}

type decoder func(b []byte) (Value, bool)

var decoders = map[Kind]decoder{
	KindJSON:    decodeJSON,
	KindString:  decodeString,
	KindMsgPack: decodeMsgPack,
}

// Classify interprets b as the first kind in Precedence that accepts it.
// It never fails and the result never aliases b.
func Classify(b []byte) Value {
	for _, kind := range Precedence {
		if v, ok := decoders[kind](b); ok {
			return v
		}
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return Value{Kind: KindBytes, Raw: raw}
}

func decodeJSON(b []byte) (Value, bool) {
	// json.Valid accepts invalid UTF-8 inside string literals and decoding
	// would replace it with U+FFFD.
	if !utf8.Valid(b) {
		return Value{}, false
	}
	tree, ok := parseTree(b)
	if !ok {
		return Value{}, false
	}
	return Value{Kind: KindJSON, Tree: tree}, true
}

func decodeString(b []byte) (Value, bool) {
	if !utf8.Valid(b) {
		return Value{}, false
	}
	return Value{Kind: KindString, Text: string(b)}, true
}

// decodeMsgPack requires the whole input to be exactly one MessagePack
// object. Trailing bytes reject the interpretation.
func decodeMsgPack(b []byte) (Value, bool) {
	if len(b) == 0 {
		return Value{}, false
	}
	// UnmarshalAsJSON translates concatenated objects back to back, so the
	// single-object check has to happen first.
	if rest, err := msgp.Skip(b); err != nil || len(rest) != 0 {
		return Value{}, false
	}
	if _, ok := walkMsgPack(b); !ok {
		return Value{}, false
	}
	var buf bytes.Buffer
	if _, err := msgp.UnmarshalAsJSON(&buf, b); err != nil {
		return Value{}, false
	}
	if !utf8.Valid(buf.Bytes()) {
		return Value{}, false
	}
	tree, ok := parseTree(buf.Bytes())
	if !ok {
		return Value{}, false
	}
	return Value{Kind: KindMsgPack, Tree: tree}, true
}

// walkMsgPack checks the object at the front of b and returns the bytes
// after it. Only values with a JSON counterpart are accepted: bin, ext and
// non UTF-8 strings have none, and UnmarshalAsJSON would invent one.
func walkMsgPack(b []byte) ([]byte, bool) {
	switch msgp.NextType(b) {
	case msgp.MapType:
		n, rest, err := msgp.ReadMapHeaderBytes(b)
		if err != nil {
			return nil, false
		}
		var ok bool
		for i := uint32(0); i < n; i++ {
			if rest, ok = walkMsgPack(rest); !ok {
				return nil, false
			}
			if rest, ok = walkMsgPack(rest); !ok {
				return nil, false
			}
		}
		return rest, true
	case msgp.ArrayType:
		n, rest, err := msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return nil, false
		}
		var ok bool
		for i := uint32(0); i < n; i++ {
			if rest, ok = walkMsgPack(rest); !ok {
				return nil, false
			}
		}
		return rest, true
	case msgp.StrType:
		s, rest, err := msgp.ReadStringZC(b)
		if err != nil || !utf8.Valid(s) {
			return nil, false
		}
		return rest, true
	case msgp.NilType, msgp.BoolType, msgp.IntType, msgp.UintType,
		msgp.Float32Type, msgp.Float64Type:
		rest, err := msgp.Skip(b)
		if err != nil {
			return nil, false
		}
		return rest, true
	default:
		// BinType, ExtensionType and the ext-backed time and complex types.
		return nil, false
	}
}

// parseTree decodes exactly one JSON document, keeping numbers as
// json.Number so integers wider than float64 survive rendering.
func parseTree(b []byte) (any, bool) {
	if !json.Valid(b) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, false
	}
	return tree, true
}
