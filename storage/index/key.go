package index

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// 索引键是定宽字节串，编码保证字节序与值序一致，比较器因此可以退化为
// 逐字节比较。

// Int64KeySize int64键的定宽长度
const Int64KeySize = 8

// Int64Key 生成保序的int64键：大端序并翻转符号位
func Int64Key(v int64) []byte {
	u := uint64(v) ^ (1 << 63)
	return []byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
}

// DecodeInt64Key 还原int64键
func DecodeInt64Key(key []byte) int64 {
	u := uint64(key[0])<<56 | uint64(key[1])<<48 | uint64(key[2])<<40 | uint64(key[3])<<32 |
		uint64(key[4])<<24 | uint64(key[5])<<16 | uint64(key[6])<<8 | uint64(key[7])
	return int64(u ^ (1 << 63))
}

// BytesKey 将变长字节串右侧补零到定宽
func BytesKey(raw []byte, keySize int) []byte {
	key := make([]byte, keySize)
	copy(key, raw)
	return key
}

// CompareBinary 定宽保序编码键的默认比较器
func CompareBinary(a, b []byte) int {
	return bytes.Compare(a, b)
}

// DecimalKeyCodec 把定点小数编码为保序的定宽键。小数先按Scale移位取整，
// 再走int64的保序编码，因此同一索引内的键必须使用同一个codec。
type DecimalKeyCodec struct {
	Scale int32
}

func NewDecimalKeyCodec(scale int32) *DecimalKeyCodec {
	return &DecimalKeyCodec{Scale: scale}
}

// Encode 编码一个小数键
func (c *DecimalKeyCodec) Encode(d decimal.Decimal) []byte {
	shifted := d.Shift(c.Scale).Round(0)
	return Int64Key(shifted.IntPart())
}

// Decode 还原小数键
func (c *DecimalKeyCodec) Decode(key []byte) decimal.Decimal {
	return decimal.New(DecodeInt64Key(key), -c.Scale)
}
