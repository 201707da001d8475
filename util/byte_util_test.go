package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteRoundtrip(t *testing.T) {
	buff := make([]byte, 0)
	buff = WriteUB2(buff, 0xBEEF)
	buff = WriteUB4(buff, 0xDEADBEEF)
	buff = WriteUB8(buff, 0x0102030405060708)

	cursor, v2 := ReadUB2(buff, 0)
	assert.Equal(t, uint16(0xBEEF), v2)
	cursor, v4 := ReadUB4(buff, cursor)
	assert.Equal(t, uint32(0xDEADBEEF), v4)
	_, v8 := ReadUB8(buff, cursor)
	assert.Equal(t, uint64(0x0102030405060708), v8)
}

func TestPutInPlace(t *testing.T) {
	buff := make([]byte, 8)
	PutUB2(buff, 0, 0x1234)
	PutUB4(buff, 2, 0xCAFEBABE)

	_, v2 := ReadUB2(buff, 0)
	assert.Equal(t, uint16(0x1234), v2)
	_, v4 := ReadUB4(buff, 2)
	assert.Equal(t, uint32(0xCAFEBABE), v4)
}

func TestHashCodeIsStable(t *testing.T) {
	a := HashCode([]byte("page-1"))
	b := HashCode([]byte("page-1"))
	c := HashCode([]byte("page-2"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
