package manager

import (
	"sync"
	"testing"
	"time"

	jerrors "github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

func newTestLockManager(t *testing.T) (*LockManager, *TransactionManager) {
	t.Helper()
	tm := NewTransactionManager()
	lm := NewLockManager(tm, 50*time.Millisecond)
	t.Cleanup(lm.Close)
	return lm, tm
}

func abortReason(t *testing.T, err error) basic.AbortReason {
	t.Helper()
	require.Error(t, err)
	cause := jerrors.Cause(err)
	tae, ok := cause.(*basic.TxnAbortError)
	require.True(t, ok, "expected TxnAbortError, got %T: %v", cause, cause)
	return tae.Reason
}

func TestLockManager_SharedLocksCompatible(t *testing.T) {
	lm, tm := newTestLockManager(t)

	t1 := tm.Begin(RepeatableRead)
	t2 := tm.Begin(RepeatableRead)

	ok, err := lm.LockTable(t1, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockTable(t2, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// 意向共享锁与共享锁兼容
	t3 := tm.Begin(RepeatableRead)
	ok, err = lm.LockTable(t3, LockModeIntentionShared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	tm.Commit(t1)
	tm.Commit(t2)
	tm.Commit(t3)
}

// 场景：T1持有X，T2请求S被阻塞；T1解锁后进入shrinking，T2获得授予
func TestLockManager_ExclusiveBlocksShared(t *testing.T) {
	lm, tm := newTestLockManager(t)

	t1 := tm.Begin(RepeatableRead)
	t2 := tm.Begin(RepeatableRead)

	ok, err := lm.LockTable(t1, LockModeExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)

	granted := make(chan bool, 1)
	go func() {
		ok, err := lm.LockTable(t2, LockModeShared, 1)
		if err != nil {
			granted <- false
			return
		}
		granted <- ok
	}()

	// T2必须还在等
	select {
	case <-granted:
		t.Fatal("shared lock granted while exclusive lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	ok, err = lm.UnlockTable(t1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TxnShrinking, t1.State())

	select {
	case ok := <-granted:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("shared lock was not granted after exclusive unlock")
	}
	assert.Equal(t, TxnGrowing, t2.State())
}

// 场景：两个S持有者同时升级X，后来者以UPGRADE_CONFLICT中止
func TestLockManager_UpgradeConflict(t *testing.T) {
	lm, tm := newTestLockManager(t)

	t1 := tm.Begin(RepeatableRead)
	t2 := tm.Begin(RepeatableRead)

	ok, err := lm.LockTable(t1, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockTable(t2, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	upgraded := make(chan bool, 1)
	go func() {
		// T2还持有S，升级要等它放掉
		ok, err := lm.LockTable(t1, LockModeExclusive, 1)
		upgraded <- ok && err == nil
	}()

	time.Sleep(100 * time.Millisecond)

	// T1升级在途，T2的升级请求直接冲突中止
	_, err = lm.LockTable(t2, LockModeExclusive, 1)
	assert.Equal(t, basic.UpgradeConflict, abortReason(t, err))
	assert.Equal(t, TxnAborted, t2.State())

	// T2的会话释放其所有锁之后，T1的升级完成
	tm.Abort(t2)
	select {
	case ok := <-upgraded:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("upgrade did not finish after conflicting holder released")
	}

	t1.Lock()
	assert.True(t, t1.IsTableLocked(1, LockModeExclusive))
	assert.False(t, t1.IsTableLocked(1, LockModeShared))
	t1.Unlock()
	tm.Commit(t1)
}

func TestLockManager_UpgradeSameModeIsNoop(t *testing.T) {
	lm, tm := newTestLockManager(t)
	t1 := tm.Begin(RepeatableRead)

	for i := 0; i < 2; i++ {
		ok, err := lm.LockTable(t1, LockModeIntentionShared, 1)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// IS -> SIX 是合法升级
	ok, err := lm.LockTable(t1, LockModeSharedIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// SIX -> S 不是合法升级
	_, err = lm.LockTable(t1, LockModeShared, 1)
	assert.Equal(t, basic.IncompatibleUpgrade, abortReason(t, err))
	assert.Equal(t, TxnAborted, t1.State())
}

// 场景：T1与T2在两行上互相等待，检测器中止事务号更大的T2
func TestLockManager_DeadlockDetection(t *testing.T) {
	lm, tm := newTestLockManager(t)

	t1 := tm.Begin(RepeatableRead)
	t2 := tm.Begin(RepeatableRead)
	r1 := basic.NewRID(1, 1)
	r2 := basic.NewRID(1, 2)

	ok, err := lm.LockTable(t1, LockModeIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockTable(t2, LockModeIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockRow(t1, LockModeExclusive, 1, r1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockRow(t2, LockModeExclusive, 1, r2)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(2)
	var t1Got, t2Got bool
	go func() {
		defer wg.Done()
		t1Got, _ = lm.LockRow(t1, LockModeExclusive, 1, r2)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		t2Got, _ = lm.LockRow(t2, LockModeExclusive, 1, r1)
		// 被害者的会话释放它持有的锁，另一个事务才能继续
		if !t2Got {
			tm.Abort(t2)
		}
	}()
	wg.Wait()

	assert.True(t, t1Got, "older transaction should survive the deadlock")
	assert.False(t, t2Got, "youngest transaction should be chosen as victim")
	assert.Equal(t, TxnAborted, t2.State())

	tm.Commit(t1)
}

func TestLockManager_ReadUncommittedRejectsShared(t *testing.T) {
	lm, tm := newTestLockManager(t)

	for _, mode := range []LockMode{LockModeShared, LockModeIntentionShared, LockModeSharedIntentionExclusive} {
		txn := tm.Begin(ReadUncommitted)
		_, err := lm.LockTable(txn, mode, 1)
		assert.Equal(t, basic.LockSharedOnReadUncommitted, abortReason(t, err))
		assert.Equal(t, TxnAborted, txn.State())
	}

	// IX和X可以
	txn := tm.Begin(ReadUncommitted)
	ok, err := lm.LockTable(txn, LockModeIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockTable(txn, LockModeExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	tm.Commit(txn)
}

func TestLockManager_LockOnShrinking(t *testing.T) {
	lm, tm := newTestLockManager(t)

	// repeatable-read下释放S进入shrinking，其后任何加锁都中止
	txn := tm.Begin(RepeatableRead)
	ok, err := lm.LockTable(txn, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.UnlockTable(txn, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TxnShrinking, txn.State())

	_, err = lm.LockTable(txn, LockModeShared, 2)
	assert.Equal(t, basic.LockOnShrinking, abortReason(t, err))
}

func TestLockManager_ReadCommittedShrinkingAllowsShared(t *testing.T) {
	lm, tm := newTestLockManager(t)

	txn := tm.Begin(ReadCommitted)
	ok, err := lm.LockTable(txn, LockModeExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.UnlockTable(txn, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TxnShrinking, txn.State())

	// read-committed收缩期还允许IS和S
	ok, err = lm.LockTable(txn, LockModeIntentionShared, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockTable(txn, LockModeShared, 3)
	require.NoError(t, err)
	require.True(t, ok)

	// 但不允许IX
	_, err = lm.LockTable(txn, LockModeIntentionExclusive, 4)
	assert.Equal(t, basic.LockOnShrinking, abortReason(t, err))
}

func TestLockManager_ReadCommittedSharedUnlockKeepsGrowing(t *testing.T) {
	lm, tm := newTestLockManager(t)

	txn := tm.Begin(ReadCommitted)
	ok, err := lm.LockTable(txn, LockModeShared, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.UnlockTable(txn, 1)
	require.NoError(t, err)
	require.True(t, ok)
	// read-committed下释放S不改变状态
	assert.Equal(t, TxnGrowing, txn.State())
}

func TestLockManager_RowLockRules(t *testing.T) {
	lm, tm := newTestLockManager(t)
	rid := basic.NewRID(1, 7)

	// 行上不允许意向锁
	txn := tm.Begin(RepeatableRead)
	_, err := lm.LockRow(txn, LockModeIntentionShared, 1, rid)
	assert.Equal(t, basic.AttemptedIntentionLockOnRow, abortReason(t, err))

	// 没有表锁时不允许行锁
	txn = tm.Begin(RepeatableRead)
	_, err = lm.LockRow(txn, LockModeShared, 1, rid)
	assert.Equal(t, basic.TableLockNotPresent, abortReason(t, err))

	// IS表锁足够S行锁，但不够X行锁
	txn = tm.Begin(RepeatableRead)
	ok, err := lm.LockTable(txn, LockModeIntentionShared, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockRow(txn, LockModeShared, 1, rid)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = lm.LockRow(txn, LockModeExclusive, 1, basic.NewRID(1, 8))
	assert.Equal(t, basic.TableLockNotPresent, abortReason(t, err))
}

func TestLockManager_TableUnlockedBeforeRows(t *testing.T) {
	lm, tm := newTestLockManager(t)
	rid := basic.NewRID(1, 7)

	txn := tm.Begin(RepeatableRead)
	ok, err := lm.LockTable(txn, LockModeIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockRow(txn, LockModeExclusive, 1, rid)
	require.NoError(t, err)
	require.True(t, ok)

	// 行锁未释放时解表锁中止
	_, err = lm.UnlockTable(txn, 1)
	assert.Equal(t, basic.TableUnlockedBeforeUnlockingRows, abortReason(t, err))
}

func TestLockManager_UnlockWithoutLock(t *testing.T) {
	lm, tm := newTestLockManager(t)

	txn := tm.Begin(RepeatableRead)
	_, err := lm.UnlockTable(txn, 1)
	assert.Equal(t, basic.AttemptedUnlockButNoLockHeld, abortReason(t, err))

	txn = tm.Begin(RepeatableRead)
	_, err = lm.UnlockRow(txn, 1, basic.NewRID(1, 1), false)
	assert.Equal(t, basic.AttemptedUnlockButNoLockHeld, abortReason(t, err))
}

func TestLockManager_RowUnlockTransitions(t *testing.T) {
	lm, tm := newTestLockManager(t)
	rid := basic.NewRID(1, 7)

	txn := tm.Begin(RepeatableRead)
	ok, err := lm.LockTable(txn, LockModeIntentionExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockRow(txn, LockModeExclusive, 1, rid)
	require.NoError(t, err)
	require.True(t, ok)

	// force解锁跳过两阶段推进
	ok, err = lm.UnlockRow(txn, 1, rid, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TxnGrowing, txn.State())

	ok, err = lm.LockRow(txn, LockModeExclusive, 1, rid)
	require.NoError(t, err)
	require.True(t, ok)

	// 普通解锁推进到shrinking
	ok, err = lm.UnlockRow(txn, 1, rid, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TxnShrinking, txn.State())
}

func TestLockManager_WaitsForGraphAPI(t *testing.T) {
	lm, _ := newTestLockManager(t)

	lm.AddEdge(1, 2)
	lm.AddEdge(2, 3)
	lm.AddEdge(1, 2) // 重复添加是无动作
	assert.Len(t, lm.GetEdgeList(), 2)

	_, hasCycle := lm.HasCycle()
	assert.False(t, hasCycle)

	lm.AddEdge(3, 1)
	victim, hasCycle := lm.HasCycle()
	assert.True(t, hasCycle)
	assert.Equal(t, basic.TxnID(3), victim, "victim is the youngest transaction on the cycle")

	lm.RemoveEdge(3, 1)
	_, hasCycle = lm.HasCycle()
	assert.False(t, hasCycle)
	assert.Len(t, lm.GetEdgeList(), 2)
}

func TestTransactionManager_CommitReleasesLocks(t *testing.T) {
	lm, tm := newTestLockManager(t)

	t1 := tm.Begin(RepeatableRead)
	ok, err := lm.LockTable(t1, LockModeExclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockRow(t1, LockModeExclusive, 1, basic.NewRID(1, 1))
	require.NoError(t, err)
	require.True(t, ok)

	tm.Commit(t1)
	assert.Equal(t, TxnCommitted, t1.State())

	// 锁全部释放，其他事务可以立刻拿到X
	t2 := tm.Begin(RepeatableRead)
	done := make(chan bool, 1)
	go func() {
		ok, err := lm.LockTable(t2, LockModeExclusive, 1)
		done <- ok && err == nil
	}()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("table lock still held after commit")
	}
	tm.Commit(t2)
}

func TestTransaction_StateNeverRegresses(t *testing.T) {
	txn := NewTransaction(1, RepeatableRead)
	txn.SetState(TxnShrinking)
	assert.Panics(t, func() {
		txn.SetState(TxnGrowing)
	})
}
