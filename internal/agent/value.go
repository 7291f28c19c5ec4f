package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind tags the shape of a DocumentValue.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindMapping
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindMapping:
		return "mapping"
	default:
		return "other"
	}
}

// DocumentValue is whatever stands in for document content in a worker
// invocation. Extraction normally yields text, but callers may pass
// nothing at all or values of an arbitrary shape.
type DocumentValue struct {
	kind    Kind
	text    string
	number  float64
	mapping map[string]any
	other   any
}

// Null is the absent document.
func Null() DocumentValue { return DocumentValue{} }

// Text wraps extracted or placeholder text.
func Text(s string) DocumentValue { return DocumentValue{kind: KindText, text: s} }

// Number wraps a numeric value.
func Number(n float64) DocumentValue { return DocumentValue{kind: KindNumber, number: n} }

// Mapping wraps a key/value structure.
func Mapping(m map[string]any) DocumentValue { return DocumentValue{kind: KindMapping, mapping: m} }

// Other wraps any value that fits none of the named shapes.
func Other(v any) DocumentValue { return DocumentValue{kind: KindOther, other: v} }

// ValueOf classifies a dynamic value.
func ValueOf(v any) DocumentValue {
	switch x := v.(type) {
	case nil:
		return Null()
	case DocumentValue:
		return x
	case string:
		return Text(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return Text(x.String())
	case map[string]any:
		return Mapping(x)
	default:
		return Other(x)
	}
}

func (v DocumentValue) Kind() Kind { return v.kind }

func (v DocumentValue) IsNull() bool { return v.kind == KindNull }

// AsText returns the text and true for text values only.
func (v DocumentValue) AsText() (string, bool) {
	return v.text, v.kind == KindText
}

var errUnrepresentable = errors.New("value has no string form")

// Stringify renders the value as text. Values whose rendering fails,
// including ones that panic while formatting, return an error.
func (v DocumentValue) Stringify() (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", fmt.Errorf("%w: %v", errUnrepresentable, r)
		}
	}()

	switch v.kind {
	case KindNull:
		return "", errUnrepresentable
	case KindText:
		return v.text, nil
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64), nil
	case KindMapping:
		data, err := json.Marshal(v.mapping)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errUnrepresentable, err)
		}
		return string(data), nil
	}

	switch x := v.other.(type) {
	case fmt.Stringer:
		return x.String(), nil
	case error:
		return x.Error(), nil
	case []byte:
		return string(x), nil
	}
	return fmt.Sprint(v.other), nil
}

const unrepresentable = "(unrepresentable)"

// Preview is the bounded form recorded in raw inputs: nil for null, text
// cut to limit characters, anything else stringified and cut the same way.
func (v DocumentValue) Preview(limit int) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindText:
		return truncate(v.text, limit)
	}
	s, err := v.Stringify()
	if err != nil {
		return unrepresentable
	}
	return truncate(s, limit)
}

// truncate cuts s to limit characters, marking the cut with "...".
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
