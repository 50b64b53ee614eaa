package wireformat

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhost-dev/flowhost/internal/domain/node"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

	tests := []struct {
		name     string
		dataType node.DataType
		value    any
	}{
		{"string", node.DataTypeString, "hello"},
		{"string empty", node.DataTypeString, ""},
		{"string unicode", node.DataTypeString, "héllo wörld ✓"},
		{"i64", node.DataTypeI64, int64(-42)},
		{"i64 max", node.DataTypeI64, int64(math.MaxInt64)},
		{"f64", node.DataTypeF64, 3.25},
		{"bool", node.DataTypeBool, true},
		{"bytes", node.DataTypeBytes, []byte{0x00, 0xff, 0x10}},
		{"date", node.DataTypeDate, date},
		{"pathbuf", node.DataTypePathBuf, FlowPathWire{Path: "boards/b1/storage", StoreRef: "board"}},
		{"struct", node.DataTypeStruct, map[string]any{"k": "v"}},
		{"generic", node.DataTypeGeneric, []any{"a", float64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodeValue(tt.value, tt.dataType)
			require.NoError(t, err)

			decoded, err := DecodeValue(encoded, tt.dataType)
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestEncodeValueRejectsWrongTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dataType node.DataType
		value    any
	}{
		{"string from int", node.DataTypeString, 42},
		{"i64 from float", node.DataTypeI64, 4.2},
		{"bool from string", node.DataTypeBool, "true"},
		{"bytes from string", node.DataTypeBytes, "raw"},
		{"date from string", node.DataTypeDate, "2026-01-01"},
		{"exec carries no value", node.DataTypeExec, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := EncodeValue(tt.value, tt.dataType)
			assert.Error(t, err)
		})
	}
}

func TestEncodeValueRejectsNonFiniteFloats(t *testing.T) {
	t.Parallel()

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := EncodeValue(f, node.DataTypeF64)
		assert.Error(t, err)
	}
}

func TestDecodeValueClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dataType node.DataType
		payload  []byte
		kind     DecodeErrorKind
	}{
		{"invalid json", node.DataTypeString, []byte(`{"broken`), DecodeMalformed},
		{"number for string", node.DataTypeString, []byte(`42`), DecodeTypeMismatch},
		{"float for i64", node.DataTypeI64, []byte(`4.2`), DecodeTypeMismatch},
		{"string for bool", node.DataTypeBool, []byte(`"yes"`), DecodeTypeMismatch},
		{"garbage date", node.DataTypeDate, []byte(`"not-a-date"`), DecodeTypeMismatch},
		{"empty pathbuf", node.DataTypePathBuf, []byte(`{}`), DecodeTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeValue(tt.payload, tt.dataType)
			require.Error(t, err)
			require.True(t, IsDecodeError(err))

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.kind, de.Kind)
		})
	}
}

func TestPackUnpackPtrLen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ptr, length uint32
	}{
		{0, 0},
		{1, 1},
		{0xDEADBEEF, 0x1000},
		{math.MaxUint32, math.MaxUint32},
	}

	for _, tt := range tests {
		packed := PackPtrLen(tt.ptr, tt.length)
		ptr, length := UnpackPtrLen(packed)
		assert.Equal(t, tt.ptr, ptr)
		assert.Equal(t, tt.length, length)
	}
}
