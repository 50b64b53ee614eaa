package wireformat

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/flowhost-dev/flowhost/internal/domain/node"
)

// DecodeErrorKind classifies codec failures at the ABI boundary.
type DecodeErrorKind int

const (
	// DecodeMalformed means the wire payload is not valid JSON or byte layout.
	DecodeMalformed DecodeErrorKind = iota
	// DecodeTypeMismatch means the payload is well-formed but does not match
	// the expected data type.
	DecodeTypeMismatch
)

// DecodeError reports a failed decode. It is always converted into a failed
// execution result by the caller, never a panic.
type DecodeError struct {
	Kind     DecodeErrorKind
	Expected node.DataType
	Detail   string
}

func (e *DecodeError) Error() string {
	kind := "malformed"
	if e.Kind == DecodeTypeMismatch {
		kind = "type mismatch"
	}
	return fmt.Sprintf("decode %s for %s: %s", kind, e.Expected, e.Detail)
}

// IsDecodeError reports whether err is a codec error.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func malformed(dt node.DataType, detail string) error {
	return &DecodeError{Kind: DecodeMalformed, Expected: dt, Detail: detail}
}

func mismatch(dt node.DataType, detail string) error {
	return &DecodeError{Kind: DecodeTypeMismatch, Expected: dt, Detail: detail}
}

// EncodeValue serializes a host-native value to its canonical wire form:
// JSON for everything except Bytes, which travels as a raw byte array.
// Encoding is total over the supported types; anything else returns an error.
//
// Canonical Go representations per data type:
//
//	String  string
//	I64     int64
//	F64     float64
//	Bool    bool
//	Bytes   []byte
//	Date    time.Time
//	PathBuf FlowPathWire
//	Struct  any (JSON-marshalable)
//	Generic any (JSON-marshalable)
func EncodeValue(v any, dt node.DataType) ([]byte, error) {
	switch dt {
	case node.DataTypeExec:
		return nil, fmt.Errorf("exec pins carry no value")

	case node.DataTypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("bytes value must be []byte, got %T", v)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil

	case node.DataTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("string value must be string, got %T", v)
		}
		return json.Marshal(s)

	case node.DataTypeI64:
		i, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("i64 value must be int64, got %T", v)
		}
		return json.Marshal(i)

	case node.DataTypeF64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("f64 value must be float64, got %T", v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("f64 value %v is not representable in JSON", f)
		}
		return json.Marshal(f)

	case node.DataTypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("bool value must be bool, got %T", v)
		}
		return json.Marshal(b)

	case node.DataTypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("date value must be time.Time, got %T", v)
		}
		return json.Marshal(t.Format(DateFormat))

	case node.DataTypePathBuf:
		fp, ok := v.(FlowPathWire)
		if !ok {
			return nil, fmt.Errorf("pathbuf value must be FlowPathWire, got %T", v)
		}
		return json.Marshal(fp)

	case node.DataTypeStruct, node.DataTypeGeneric:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("value is not JSON-encodable: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported data type %q", dt)
	}
}

// DecodeValue is the inverse of EncodeValue. decode(encode(v)) == v holds for
// every supported type.
func DecodeValue(data []byte, dt node.DataType) (any, error) {
	switch dt {
	case node.DataTypeExec:
		return nil, mismatch(dt, "exec pins carry no value")

	case node.DataTypeBytes:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case node.DataTypeString:
		var s string
		if err := unmarshalStrict(data, &s, dt); err != nil {
			return nil, err
		}
		return s, nil

	case node.DataTypeI64:
		var n json.Number
		if err := unmarshalStrict(data, &n, dt); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, mismatch(dt, fmt.Sprintf("%q is not an integer", n))
		}
		return i, nil

	case node.DataTypeF64:
		var f float64
		if err := unmarshalStrict(data, &f, dt); err != nil {
			return nil, err
		}
		return f, nil

	case node.DataTypeBool:
		var b bool
		if err := unmarshalStrict(data, &b, dt); err != nil {
			return nil, err
		}
		return b, nil

	case node.DataTypeDate:
		var s string
		if err := unmarshalStrict(data, &s, dt); err != nil {
			return nil, err
		}
		t, err := ParseDate(s)
		if err != nil {
			return nil, mismatch(dt, err.Error())
		}
		return t, nil

	case node.DataTypePathBuf:
		var fp FlowPathWire
		if err := unmarshalStrict(data, &fp, dt); err != nil {
			return nil, err
		}
		if fp.Path == "" && fp.StoreRef == "" {
			return nil, mismatch(dt, "flow path missing path and store_ref")
		}
		return fp, nil

	case node.DataTypeStruct, node.DataTypeGeneric:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, malformed(dt, err.Error())
		}
		return v, nil

	default:
		return nil, mismatch(dt, fmt.Sprintf("unsupported data type %q", dt))
	}
}

// unmarshalStrict distinguishes invalid JSON (malformed) from valid JSON of
// the wrong shape (type mismatch).
func unmarshalStrict(data []byte, target any, dt node.DataType) error {
	if !json.Valid(data) {
		return malformed(dt, "payload is not valid JSON")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return mismatch(dt, err.Error())
	}
	return nil
}
