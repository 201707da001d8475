package manager

import (
	"container/list"
	"sync"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

// LockRequest 锁请求
type LockRequest struct {
	txnID   basic.TxnID
	mode    LockMode
	tableID basic.TableID
	rid     basic.RID // 仅行锁请求使用
	onTable bool
	granted bool
}

// LockRequestQueue 单个资源上的请求队列。cond条件变量配合队列自身的
// 互斥锁使用，等待者被唤醒后重新检查授予条件和事务状态。
type LockRequestQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	requests *list.List // *LockRequest 按到达顺序排列

	// 正在升级的事务，同一时刻一个资源上至多一个
	upgrading basic.TxnID
}

func newLockRequestQueue() *LockRequestQueue {
	q := &LockRequestQueue{
		requests:  list.New(),
		upgrading: basic.InvalidTxnID,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// grantLock 尝试授予请求。升级槽被其他事务占用、或与任何已授予请求不兼容
// 时返回false。授予成功时把锁记入事务的锁集合。调用方必须持有q.mu。
func (q *LockRequestQueue) grantLock(txn *Transaction, req *LockRequest) bool {
	if q.upgrading != basic.InvalidTxnID && q.upgrading != req.txnID {
		return false
	}
	for e := q.requests.Front(); e != nil; e = e.Next() {
		held := e.Value.(*LockRequest)
		if held.granted && !LockModesCompatible(held.mode, req.mode) {
			return false
		}
	}
	if q.upgrading == req.txnID {
		q.upgrading = basic.InvalidTxnID
	}

	txn.Lock()
	if req.onTable {
		txn.addTableLock(req.tableID, req.mode)
	} else {
		txn.addRowLock(req.tableID, req.rid, req.mode)
	}
	txn.Unlock()
	req.granted = true
	return true
}

// removeRequest 把请求从队列中摘除
func (q *LockRequestQueue) removeRequest(req *LockRequest) {
	for e := q.requests.Front(); e != nil; e = e.Next() {
		if e.Value.(*LockRequest) == req {
			q.requests.Remove(e)
			return
		}
	}
}

// 升级检查结果
const (
	upgradeAlreadyHeld = 0 // 同模式已持有，加锁是无动作
	upgradeStarted     = 1 // 旧授予已摘除，重新排队并带升级优先
	upgradeNotHeld     = 2 // 该资源上没有已持有的锁
)

// LockManager 表/行两种粒度的严格两阶段锁管理器。每个资源一条请求队列，
// 资源到队列的解析经由两把顶层互斥锁，解析完成即释放，再取队列自身的闩。
type LockManager struct {
	tableLockMapMu sync.Mutex
	tableLockMap   map[basic.TableID]*LockRequestQueue

	rowLockMapMu sync.Mutex
	rowLockMap   map[uint64]*LockRequestQueue // 键为RID哈希

	// waits-for图，死锁检测期间重建
	waitsForMu sync.Mutex
	waitsFor   map[basic.TxnID][]basic.TxnID

	txnMgr *TransactionManager

	cycleDetectionInterval time.Duration
	stopChan               chan struct{}
	stopOnce               sync.Once
}

func NewLockManager(txnMgr *TransactionManager, cycleDetectionInterval time.Duration) *LockManager {
	lm := &LockManager{
		tableLockMap:           make(map[basic.TableID]*LockRequestQueue),
		rowLockMap:             make(map[uint64]*LockRequestQueue),
		waitsFor:               make(map[basic.TxnID][]basic.TxnID),
		txnMgr:                 txnMgr,
		cycleDetectionInterval: cycleDetectionInterval,
		stopChan:               make(chan struct{}),
	}
	txnMgr.attachLockManager(lm)
	// 启动死锁检测
	go lm.runCycleDetection()
	return lm
}

// Close 关闭锁管理器，停止死锁检测
func (lm *LockManager) Close() {
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}

func (lm *LockManager) tableQueue(tableID basic.TableID) *LockRequestQueue {
	lm.tableLockMapMu.Lock()
	defer lm.tableLockMapMu.Unlock()
	q, ok := lm.tableLockMap[tableID]
	if !ok {
		q = newLockRequestQueue()
		lm.tableLockMap[tableID] = q
	}
	return q
}

func (lm *LockManager) rowQueue(rid basic.RID) *LockRequestQueue {
	lm.rowLockMapMu.Lock()
	defer lm.rowLockMapMu.Unlock()
	key := rid.Hash()
	q, ok := lm.rowLockMap[key]
	if !ok {
		q = newLockRequestQueue()
		lm.rowLockMap[key] = q
	}
	return q
}

// abort 把事务置为中止态并返回带原因的错误
func (lm *LockManager) abort(txn *Transaction, reason basic.AbortReason) error {
	txn.setStateLocked(TxnAborted)
	return jerrors.Trace(basic.NewTxnAbortError(txn.ID(), reason))
}

// checkTableAcquire 隔离级别 x 事务状态 x 锁模式 的准入检查。
// 调用方持有txn.mu。
func (lm *LockManager) checkTableAcquire(txn *Transaction, mode LockMode) error {
	switch txn.stateLocked() {
	case TxnGrowing:
		if txn.IsolationLevel() == ReadUncommitted &&
			mode != LockModeIntentionExclusive && mode != LockModeExclusive {
			return lm.abort(txn, basic.LockSharedOnReadUncommitted)
		}
		return nil
	case TxnShrinking:
		if txn.IsolationLevel() == ReadCommitted &&
			(mode == LockModeIntentionShared || mode == LockModeShared) {
			return nil
		}
		return lm.abort(txn, basic.LockOnShrinking)
	default:
		return lm.abort(txn, basic.LockOnAnotherPhase)
	}
}

// checkUpgradeTable 处理重入与升级。调用方持有q.mu。
func (lm *LockManager) checkUpgradeTable(q *LockRequestQueue, txn *Transaction, mode LockMode,
	tableID basic.TableID) (int, error) {
	txn.Lock()
	defer txn.Unlock()

	if txn.IsTableLocked(tableID, mode) {
		return upgradeAlreadyHeld, nil
	}
	for e := q.requests.Front(); e != nil; e = e.Next() {
		req := e.Value.(*LockRequest)
		if !req.granted || req.txnID != txn.ID() {
			continue
		}
		if !LockUpgradeAllowed(req.mode, mode) {
			return 0, lm.abort(txn, basic.IncompatibleUpgrade)
		}
		if q.upgrading != basic.InvalidTxnID {
			return 0, lm.abort(txn, basic.UpgradeConflict)
		}
		q.upgrading = txn.ID()
		txn.removeTableLock(tableID, req.mode)
		q.requests.Remove(e)
		return upgradeStarted, nil
	}
	return upgradeNotHeld, nil
}

// checkUpgradeRow 行锁版本的重入与升级检查。调用方持有q.mu。
func (lm *LockManager) checkUpgradeRow(q *LockRequestQueue, txn *Transaction, mode LockMode,
	tableID basic.TableID, rid basic.RID) (int, error) {
	txn.Lock()
	defer txn.Unlock()

	if txn.IsRowLocked(tableID, rid, mode) {
		return upgradeAlreadyHeld, nil
	}
	for e := q.requests.Front(); e != nil; e = e.Next() {
		req := e.Value.(*LockRequest)
		if !req.granted || req.txnID != txn.ID() {
			continue
		}
		if !LockUpgradeAllowed(req.mode, mode) {
			return 0, lm.abort(txn, basic.IncompatibleUpgrade)
		}
		if q.upgrading != basic.InvalidTxnID {
			return 0, lm.abort(txn, basic.UpgradeConflict)
		}
		q.upgrading = txn.ID()
		txn.removeRowLock(tableID, rid, req.mode)
		q.requests.Remove(e)
		return upgradeStarted, nil
	}
	return upgradeNotHeld, nil
}

// waitForGrant 在队列上等待请求被授予。死锁检测器把事务置为中止态后，
// 等待者摘除自己的请求、做清理并返回false，不产生错误。
// 调用方持有q.mu，返回时q.mu已释放。
func (lm *LockManager) waitForGrant(q *LockRequestQueue, txn *Transaction, req *LockRequest) bool {
	for !q.grantLock(txn, req) {
		q.cond.Wait()
		if txn.State() == TxnAborted {
			q.removeRequest(req)
			if q.upgrading == req.txnID {
				q.upgrading = basic.InvalidTxnID
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return false
		}
	}
	q.mu.Unlock()
	return true
}

// LockTable 以mode获取表锁。授予前阻塞；等待中被中止返回false。
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, tableID basic.TableID) (bool, error) {
	q := lm.tableQueue(tableID)

	txn.Lock()
	if err := lm.checkTableAcquire(txn, mode); err != nil {
		txn.Unlock()
		return false, err
	}
	txn.Unlock()

	q.mu.Lock()
	res, err := lm.checkUpgradeTable(q, txn, mode, tableID)
	if err != nil {
		q.mu.Unlock()
		return false, err
	}
	if res == upgradeAlreadyHeld {
		q.mu.Unlock()
		return true, nil
	}

	req := &LockRequest{txnID: txn.ID(), mode: mode, tableID: tableID, onTable: true}
	q.requests.PushBack(req)
	return lm.waitForGrant(q, txn, req), nil
}

// UnlockTable 释放表锁并按隔离级别推进事务状态。该表上还有行锁没释放、
// 或者根本没持有表锁时，事务被中止。
func (lm *LockManager) UnlockTable(txn *Transaction, tableID basic.TableID) (bool, error) {
	q := lm.tableQueue(tableID)

	q.mu.Lock()
	defer q.mu.Unlock()
	txn.Lock()
	defer txn.Unlock()

	for e := q.requests.Front(); e != nil; e = e.Next() {
		req := e.Value.(*LockRequest)
		if !req.granted || req.txnID != txn.ID() {
			continue
		}
		if txn.HasRowLocksOnTable(tableID) {
			return false, lm.abort(txn, basic.TableUnlockedBeforeUnlockingRows)
		}
		lm.advanceTxnState(txn, req.mode)
		txn.removeTableLock(tableID, req.mode)
		q.requests.Remove(e)
		q.cond.Broadcast()
		return true, nil
	}
	return false, lm.abort(txn, basic.AttemptedUnlockButNoLockHeld)
}

// advanceTxnState 成功释放锁后的两阶段状态推进。调用方持有txn.mu。
func (lm *LockManager) advanceTxnState(txn *Transaction, releasedMode LockMode) {
	if txn.stateLocked() != TxnGrowing {
		return
	}
	if txn.IsolationLevel() == RepeatableRead {
		if releasedMode == LockModeShared || releasedMode == LockModeExclusive {
			txn.setStateLocked(TxnShrinking)
		}
		return
	}
	if releasedMode == LockModeExclusive {
		txn.setStateLocked(TxnShrinking)
	}
}

// LockRow 以mode获取行锁。行上只允许S和X，且要求先持有相应的表锁。
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, tableID basic.TableID, rid basic.RID) (bool, error) {
	q := lm.rowQueue(rid)

	txn.Lock()
	if mode != LockModeShared && mode != LockModeExclusive {
		err := lm.abort(txn, basic.AttemptedIntentionLockOnRow)
		txn.Unlock()
		return false, err
	}

	state := txn.stateLocked()
	allowed := state == TxnGrowing ||
		(txn.IsolationLevel() == ReadCommitted && state == TxnShrinking && mode == LockModeShared)
	if !allowed {
		var err error
		if state == TxnShrinking {
			err = lm.abort(txn, basic.LockOnShrinking)
		} else {
			err = lm.abort(txn, basic.LockOnAnotherPhase)
		}
		txn.Unlock()
		return false, err
	}
	if txn.IsolationLevel() == ReadUncommitted && mode == LockModeShared {
		err := lm.abort(txn, basic.LockSharedOnReadUncommitted)
		txn.Unlock()
		return false, err
	}

	// 行锁之前必须已经持有表锁：S行锁要求任意表锁，X行锁要求X/IX/SIX
	if mode == LockModeShared {
		if _, held := txn.HeldTableLockMode(tableID); !held {
			err := lm.abort(txn, basic.TableLockNotPresent)
			txn.Unlock()
			return false, err
		}
	} else {
		if !txn.IsTableLocked(tableID, LockModeExclusive) &&
			!txn.IsTableLocked(tableID, LockModeIntentionExclusive) &&
			!txn.IsTableLocked(tableID, LockModeSharedIntentionExclusive) {
			err := lm.abort(txn, basic.TableLockNotPresent)
			txn.Unlock()
			return false, err
		}
	}
	txn.Unlock()

	q.mu.Lock()
	res, err := lm.checkUpgradeRow(q, txn, mode, tableID, rid)
	if err != nil {
		q.mu.Unlock()
		return false, err
	}
	if res == upgradeAlreadyHeld {
		q.mu.Unlock()
		return true, nil
	}

	req := &LockRequest{txnID: txn.ID(), mode: mode, tableID: tableID, rid: rid}
	q.requests.PushBack(req)
	return lm.waitForGrant(q, txn, req), nil
}

// UnlockRow 释放行锁。force为true时跳过两阶段状态推进，供事务结束时的
// 批量释放使用。
func (lm *LockManager) UnlockRow(txn *Transaction, tableID basic.TableID, rid basic.RID, force bool) (bool, error) {
	q := lm.rowQueue(rid)

	q.mu.Lock()
	defer q.mu.Unlock()
	txn.Lock()
	defer txn.Unlock()

	for e := q.requests.Front(); e != nil; e = e.Next() {
		req := e.Value.(*LockRequest)
		if !req.granted || req.txnID != txn.ID() || req.rid != rid {
			continue
		}
		if !force {
			lm.advanceTxnState(txn, req.mode)
		}
		txn.removeRowLock(tableID, rid, req.mode)
		q.requests.Remove(e)
		q.cond.Broadcast()
		return true, nil
	}
	return false, lm.abort(txn, basic.AttemptedUnlockButNoLockHeld)
}

// releaseAllLocks 事务提交或中止时释放其全部锁：先行锁后表锁，每条队列
// 唤醒等待者。不做两阶段状态推进。
func (lm *LockManager) releaseAllLocks(txn *Transaction) {
	txn.Lock()
	type rowRef struct {
		tableID basic.TableID
		rid     basic.RID
		mode    LockMode
	}
	var rows []rowRef
	for tableID, set := range txn.sharedRowLockSet {
		for _, rid := range set {
			rows = append(rows, rowRef{tableID, rid, LockModeShared})
		}
	}
	for tableID, set := range txn.exclusiveRowLockSet {
		for _, rid := range set {
			rows = append(rows, rowRef{tableID, rid, LockModeExclusive})
		}
	}
	type tableRef struct {
		tableID basic.TableID
		mode    LockMode
	}
	var tables []tableRef
	for _, mode := range []LockMode{LockModeIntentionShared, LockModeIntentionExclusive,
		LockModeShared, LockModeSharedIntentionExclusive, LockModeExclusive} {
		for tableID := range txn.tableLockSet(mode) {
			tables = append(tables, tableRef{tableID, mode})
		}
	}
	txn.Unlock()

	for _, r := range rows {
		q := lm.rowQueue(r.rid)
		q.mu.Lock()
		txn.Lock()
		for e := q.requests.Front(); e != nil; e = e.Next() {
			req := e.Value.(*LockRequest)
			if req.granted && req.txnID == txn.ID() && req.rid == r.rid {
				txn.removeRowLock(r.tableID, r.rid, req.mode)
				q.requests.Remove(e)
				break
			}
		}
		txn.Unlock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	for _, t := range tables {
		q := lm.tableQueue(t.tableID)
		q.mu.Lock()
		txn.Lock()
		for e := q.requests.Front(); e != nil; e = e.Next() {
			req := e.Value.(*LockRequest)
			if req.granted && req.txnID == txn.ID() {
				txn.removeTableLock(t.tableID, req.mode)
				q.requests.Remove(e)
				break
			}
		}
		txn.Unlock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
