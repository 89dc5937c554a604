package materialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind tags a RawResult node.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindSequence
	KindMapping
	// KindScalar covers numbers and booleans, which never hold an asset.
	KindScalar
)

// RawResult is the schema-less payload returned by the remote service.
// Mappings keep their wire order so candidate selection is reproducible.
type RawResult struct {
	Kind   Kind
	Str    string
	Items  []RawResult
	Fields []Field
}

// Field is one key of a mapping.
type Field struct {
	Key   string
	Value RawResult
}

// String builds a string node.
func String(s string) RawResult { return RawResult{Kind: KindString, Str: s} }

// Sequence builds a sequence node.
func Sequence(items ...RawResult) RawResult { return RawResult{Kind: KindSequence, Items: items} }

// Mapping builds a mapping node; fields keep the given order.
func Mapping(fields ...Field) RawResult { return RawResult{Kind: KindMapping, Fields: fields} }

// F is shorthand for a mapping field.
func F(key string, v RawResult) Field { return Field{Key: key, Value: v} }

// Lookup returns the first field named key.
func (r RawResult) Lookup(key string) (RawResult, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return RawResult{}, false
}

// ParseRawResult decodes JSON into a RawResult.
func ParseRawResult(data []byte) (RawResult, error) {
	var r RawResult
	err := r.UnmarshalJSON(data)
	return r, err
}

// UnmarshalJSON decodes any JSON value, preserving object key order.
func (r *RawResult) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return fmt.Errorf("decode raw result: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("decode raw result: trailing data")
	}
	*r = v
	return nil
}

func decodeValue(dec *json.Decoder) (RawResult, error) {
	tok, err := dec.Token()
	if err != nil {
		return RawResult{}, err
	}
	switch t := tok.(type) {
	case nil:
		return RawResult{Kind: KindNull}, nil
	case string:
		return String(t), nil
	case json.Number, bool:
		return RawResult{Kind: KindScalar}, nil
	case json.Delim:
		switch t {
		case '[':
			seq := RawResult{Kind: KindSequence}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return RawResult{}, err
				}
				seq.Items = append(seq.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return RawResult{}, err
			}
			return seq, nil
		case '{':
			m := RawResult{Kind: KindMapping}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return RawResult{}, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return RawResult{}, err
				}
				m.Fields = append(m.Fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return RawResult{}, err
			}
			return m, nil
		}
	}
	return RawResult{}, fmt.Errorf("unexpected token %v", tok)
}

// MarshalJSON encodes r back to JSON, keeping key order.
func (r RawResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r RawResult) encode(buf *bytes.Buffer) error {
	switch r.Kind {
	case KindString:
		b, err := json.Marshal(r.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindSequence:
		buf.WriteByte('[')
		for i, item := range r.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, f := range r.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
	return nil
}

// Summary renders at most n bytes of r for error messages.
func (r RawResult) Summary(n int) string {
	b, err := r.MarshalJSON()
	if err != nil {
		return "<unprintable>"
	}
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
