package valuetype

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSQLType(t *testing.T) {
	tests := []struct {
		sqlType string
		want    ValueType
	}{
		{"BIGINT", Int},
		{"int(11)", Int},
		{"serial", Int},
		{"DOUBLE", Float},
		{"real", Float},
		{"DECIMAL(10,2)", Decimal},
		{"numeric", Decimal},
		{"BOOLEAN", Bool},
		{"timestamptz", Timestamp},
		{"DATETIME", Timestamp},
		{"date", Date},
		{"uuid", UUID},
		{"ENUM('a','b')", Enum},
		{"VARCHAR(255)", String},
		{"text", String},
		{"geometry", String},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.want, FromSQLType(tt.sqlType))
		})
	}
}

func TestParseName(t *testing.T) {
	for _, vt := range []ValueType{String, Int, Float, Decimal, Bool, Timestamp, Date, UUID, Enum} {
		parsed, err := Parse(vt.String())
		require.NoError(t, err)
		assert.Equal(t, vt, parsed)
	}

	_, err := Parse("blob")
	require.Error(t, err)
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name    string
		vt      ValueType
		raw     string
		enum    []string
		want    any
		wantErr bool
	}{
		{name: "int", vt: Int, raw: "42", want: int64(42)},
		{name: "int rejects text", vt: Int, raw: "forty", wantErr: true},
		{name: "float", vt: Float, raw: "1.5", want: 1.5},
		{name: "float rejects NaN", vt: Float, raw: "NaN", wantErr: true},
		{name: "bool upper", vt: Bool, raw: "TRUE", want: true},
		{name: "bool mixed case", vt: Bool, raw: "fAlSe", want: false},
		{name: "bool rejects 1", vt: Bool, raw: "1", wantErr: true},
		{name: "date", vt: Date, raw: "2021-03-04", want: "2021-03-04"},
		{name: "date rejects timestamp", vt: Date, raw: "2021-03-04T10:00:00Z", wantErr: true},
		{name: "uuid normalized", vt: UUID, raw: "550E8400-E29B-41D4-A716-446655440000", want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "uuid rejects text", vt: UUID, raw: "abc", wantErr: true},
		{name: "enum member", vt: Enum, raw: "GATE_IN", enum: []string{"GATE_IN", "GATE_OUT"}, want: "GATE_IN"},
		{name: "enum non member", vt: Enum, raw: "LOAD", enum: []string{"GATE_IN", "GATE_OUT"}, wantErr: true},
		{name: "string verbatim", vt: String, raw: " spaced ", want: " spaced "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.vt.ParseLiteral(tt.raw, tt.enum)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLiteral_TimestampAndDecimal(t *testing.T) {
	ts, err := Timestamp.ParseLiteral("2021-01-02T03:04:05+02:00", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 2, 1, 4, 5, 0, time.UTC), ts)

	dec, err := Decimal.ParseLiteral("12.340", nil)
	require.NoError(t, err)
	assert.Equal(t, "12.340", dec.(Dec).String())

	value, err := dec.(Dec).Value()
	require.NoError(t, err)
	assert.Equal(t, "12.340", value)

	_, err = Decimal.ParseLiteral("12,3", nil)
	require.Error(t, err)
}

func TestFormatLiteralRoundTrip(t *testing.T) {
	values := []struct {
		vt    ValueType
		value any
	}{
		{Int, int64(-7)},
		{Float, 0.1},
		{Bool, true},
		{Timestamp, time.Date(2022, 5, 6, 7, 8, 9, 123456789, time.UTC)},
		{Date, "2022-05-06"},
		{String, "a,b"},
	}
	for _, v := range values {
		t.Run(v.vt.String(), func(t *testing.T) {
			parsed, err := v.vt.ParseLiteral(FormatLiteral(v.value), nil)
			require.NoError(t, err)
			assert.Equal(t, v.value, parsed)
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		vt      ValueType
		in      any
		want    any
		wantErr bool
	}{
		{name: "nil passes", vt: Int, in: nil, want: nil},
		{name: "int from bytes", vt: Int, in: []byte("12"), want: int64(12)},
		{name: "int from int32", vt: Int, in: int32(3), want: int64(3)},
		{name: "int rejects fraction", vt: Int, in: 1.5, wantErr: true},
		{name: "int rejects time", vt: Int, in: time.Now(), wantErr: true},
		{name: "float from bytes", vt: Float, in: []byte("2.5"), want: 2.5},
		{name: "bool from tinyint", vt: Bool, in: int64(1), want: true},
		{name: "bool rejects 2", vt: Bool, in: int64(2), wantErr: true},
		{name: "string from bytes", vt: String, in: []byte("abc"), want: "abc"},
		{name: "string rejects int", vt: String, in: int64(1), wantErr: true},
		{name: "date from time", vt: Date, in: time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC), want: "2020-02-03"},
		{name: "date from datetime text", vt: Date, in: "2020-02-03 00:00:00", want: "2020-02-03"},
		{name: "uuid from binary", vt: UUID, in: []byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}, want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "timestamp from text", vt: Timestamp, in: "2020-02-03 04:05:06", want: time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.vt.Coerce(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceDecimal(t *testing.T) {
	got, err := Decimal.Coerce([]byte("99.95"))
	require.NoError(t, err)
	data, err := got.(Dec).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "99.95", string(data))
}

func TestOperatorSupport(t *testing.T) {
	assert.True(t, Int.SupportsOrdering())
	assert.True(t, Timestamp.SupportsOrdering())
	assert.False(t, UUID.SupportsOrdering())
	assert.False(t, Enum.SupportsOrdering())
	assert.False(t, Bool.SupportsOrdering())

	assert.True(t, String.SupportsPattern())
	assert.True(t, Enum.SupportsPattern())
	assert.False(t, Int.SupportsPattern())
}
