package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

func TestDiskManager_WriteReadRoundtrip(t *testing.T) {
	dm, err := NewDiskManager(t.TempDir(), "test.ibd", 4096)
	require.NoError(t, err)
	defer dm.Close()

	p0 := dm.AllocatePage()
	p1 := dm.AllocatePage()
	assert.Equal(t, basic.PageID(0), p0)
	assert.Equal(t, basic.PageID(1), p1)

	content := make([]byte, 4096)
	copy(content, "A test string.")
	require.NoError(t, dm.WritePage(p1, content))

	out := make([]byte, 4096)
	require.NoError(t, dm.ReadPage(p1, out))
	assert.Equal(t, content, out)

	// 从未写过的页面读出全零
	require.NoError(t, dm.ReadPage(p0, out))
	for _, b := range out {
		require.Zero(t, b)
	}
}

func TestDiskManager_DeallocateReusesPageNo(t *testing.T) {
	dm, err := NewDiskManager(t.TempDir(), "test.ibd", 4096)
	require.NoError(t, err)
	defer dm.Close()

	p0 := dm.AllocatePage()
	p1 := dm.AllocatePage()
	dm.DeallocatePage(p0)

	assert.Equal(t, p0, dm.AllocatePage())
	assert.Equal(t, basic.PageID(2), dm.AllocatePage())
	_ = p1
}

func TestDiskManager_ReadBufferSizeMismatch(t *testing.T) {
	dm, err := NewDiskManager(t.TempDir(), "test.ibd", 4096)
	require.NoError(t, err)
	defer dm.Close()

	err = dm.ReadPage(dm.AllocatePage(), make([]byte, 100))
	assert.Error(t, err)

	err = dm.WritePage(basic.PageID(0), make([]byte, 100))
	assert.Error(t, err)
}
