package manager

import (
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

// TransactionManager 负责事务的创建与终结。事务号单调递增，事务号大的
// 事务更年轻，死锁检测据此选受害者。
type TransactionManager struct {
	mu        sync.Mutex
	nextTxnID basic.TxnID
	txnMap    map[basic.TxnID]*Transaction

	lockMgr *LockManager
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		txnMap: make(map[basic.TxnID]*Transaction),
	}
}

func (tm *TransactionManager) attachLockManager(lm *LockManager) {
	tm.lockMgr = lm
}

// Begin 开启一个新事务
func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	txnID := tm.nextTxnID
	tm.nextTxnID++
	txn := NewTransaction(txnID, isolation)
	tm.txnMap[txnID] = txn
	return txn
}

// GetTransaction 按事务号查找事务
func (tm *TransactionManager) GetTransaction(txnID basic.TxnID) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.txnMap[txnID]
}

// Commit 提交事务并释放其全部锁
func (tm *TransactionManager) Commit(txn *Transaction) {
	if tm.lockMgr != nil {
		tm.lockMgr.releaseAllLocks(txn)
	}
	txn.SetState(TxnCommitted)

	tm.mu.Lock()
	delete(tm.txnMap, txn.ID())
	tm.mu.Unlock()
}

// Abort 回滚事务并释放其全部锁
func (tm *TransactionManager) Abort(txn *Transaction) {
	if tm.lockMgr != nil {
		tm.lockMgr.releaseAllLocks(txn)
	}
	txn.SetState(TxnAborted)
	logger.Debugf("transaction %d aborted\n", txn.ID())

	tm.mu.Lock()
	delete(tm.txnMap, txn.ID())
	tm.mu.Unlock()
}
