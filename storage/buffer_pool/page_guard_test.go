package buffer_pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageGuard_DropUnpins(t *testing.T) {
	bpm, _ := newTestBPM(t, 4, 2)

	pageNo, guard, err := bpm.NewPageGuarded()
	require.NoError(t, err)

	// 守卫持有pin，页面不可删除
	assert.False(t, bpm.DeletePage(pageNo))

	guard.Drop()
	assert.True(t, bpm.DeletePage(pageNo))
}

func TestPageGuard_DropIsIdempotent(t *testing.T) {
	bpm, _ := newTestBPM(t, 4, 2)

	pageNo, guard, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	guard.Drop()
	guard.Drop()
	guard.Drop()

	// 只归还了一次pin
	assert.True(t, bpm.DeletePage(pageNo))
}

func TestPageGuard_MutatedGuardPageWrittenOnEviction(t *testing.T) {
	bpm, diskMgr := newTestBPM(t, 4, 2)

	pageNo, guard, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	copy(guard.GetContentMut(), "dirty-bytes")
	guard.Drop()

	// 写脏的页面被淘汰时落盘
	for i := 0; i < 5; i++ {
		no, _, err := bpm.NewPage()
		require.NoError(t, err)
		bpm.UnpinPage(no, false)
	}

	out := make([]byte, 4096)
	require.NoError(t, diskMgr.ReadPage(pageNo, out))
	assert.Equal(t, "dirty-bytes", string(out[:11]))
}

func TestPageGuard_ReadGuardsShareLatch(t *testing.T) {
	bpm, _ := newTestBPM(t, 4, 2)

	pageNo, guard, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	guard.Drop()

	// 两个读守卫可以同时持有同一页
	rg1, err := bpm.FetchPageRead(pageNo)
	require.NoError(t, err)
	rg2, err := bpm.FetchPageRead(pageNo)
	require.NoError(t, err)

	rg1.Drop()
	rg2.Drop()

	// 读守卫全部释放后写守卫可以进入
	wg, err := bpm.FetchPageWrite(pageNo)
	require.NoError(t, err)
	copy(wg.GetContentMut(), "w")
	wg.Drop()

	assert.True(t, bpm.DeletePage(pageNo))
}

func TestPageGuard_WriteBlocksReaders(t *testing.T) {
	bpm, _ := newTestBPM(t, 4, 2)

	pageNo, guard, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	guard.Drop()

	wg, err := bpm.FetchPageWrite(pageNo)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		rg, err := bpm.FetchPageRead(pageNo)
		if err == nil {
			rg.Drop()
		}
		close(acquired)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("reader acquired the latch while the write guard was held")
	default:
	}

	wg.Drop()
	<-acquired
	assert.True(t, bpm.DeletePage(pageNo))
}
