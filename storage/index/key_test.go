package index

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInt64Key_OrderPreserving(t *testing.T) {
	values := []int64{-1 << 62, -100, -1, 0, 1, 7, 100, 1 << 62}
	for i := 1; i < len(values); i++ {
		a := Int64Key(values[i-1])
		b := Int64Key(values[i])
		assert.Negative(t, CompareBinary(a, b), "%d should sort before %d", values[i-1], values[i])
	}
	for _, v := range values {
		assert.Equal(t, v, DecodeInt64Key(Int64Key(v)))
	}
}

func TestBytesKey_Padding(t *testing.T) {
	key := BytesKey([]byte("ab"), 8)
	assert.Len(t, key, 8)
	assert.Negative(t, CompareBinary(key, BytesKey([]byte("abc"), 8)))
	assert.Negative(t, CompareBinary(BytesKey([]byte("ab"), 8), BytesKey([]byte("b"), 8)))
}

func TestDecimalKeyCodec_OrderPreserving(t *testing.T) {
	codec := NewDecimalKeyCodec(4)

	raw := []string{"-9999.5", "-1.0001", "0", "0.0001", "3.14", "42", "99999.9999"}
	var prev []byte
	for _, s := range raw {
		d, err := decimal.NewFromString(s)
		assert.NoError(t, err)
		key := codec.Encode(d)
		if prev != nil {
			assert.Negative(t, CompareBinary(prev, key), "%s should sort after its predecessor", s)
		}
		assert.True(t, codec.Decode(key).Equal(d.Round(4)), "roundtrip of %s", s)
		prev = key
	}
}
