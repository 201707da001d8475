package manager

import (
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

// IsolationLevel 隔离级别
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	}
	return "UNKNOWN"
}

// TxnState 事务状态，只允许单调前进：growing -> shrinking -> committed/aborted
type TxnState int

const (
	TxnGrowing TxnState = iota
	TxnShrinking
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnGrowing:
		return "GROWING"
	case TxnShrinking:
		return "SHRINKING"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// ridSet 行锁集合，键为RID哈希
type ridSet map[uint64]basic.RID

// Transaction 事务控制体：身份、隔离级别、两阶段状态，以及按粒度分开的
// 锁集合。锁集合只由锁管理器在持有队列闩时修改。
type Transaction struct {
	mu sync.Mutex

	txnID     basic.TxnID
	isolation IsolationLevel
	state     TxnState

	// 表锁集合，五种模式各一个
	sharedTableLockSet             map[basic.TableID]struct{}
	exclusiveTableLockSet          map[basic.TableID]struct{}
	intentionSharedTableLockSet    map[basic.TableID]struct{}
	intentionExclusiveTableLockSet map[basic.TableID]struct{}
	sharedIntentionExclusiveSet    map[basic.TableID]struct{}

	// 行锁集合，按表分组
	sharedRowLockSet    map[basic.TableID]ridSet
	exclusiveRowLockSet map[basic.TableID]ridSet
}

func NewTransaction(txnID basic.TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		txnID:     txnID,
		isolation: isolation,
		state:     TxnGrowing,

		sharedTableLockSet:             make(map[basic.TableID]struct{}),
		exclusiveTableLockSet:          make(map[basic.TableID]struct{}),
		intentionSharedTableLockSet:    make(map[basic.TableID]struct{}),
		intentionExclusiveTableLockSet: make(map[basic.TableID]struct{}),
		sharedIntentionExclusiveSet:    make(map[basic.TableID]struct{}),

		sharedRowLockSet:    make(map[basic.TableID]ridSet),
		exclusiveRowLockSet: make(map[basic.TableID]ridSet),
	}
}

func (txn *Transaction) ID() basic.TxnID {
	return txn.txnID
}

func (txn *Transaction) IsolationLevel() IsolationLevel {
	return txn.isolation
}

// Lock 事务自身的互斥锁，锁管理器在读改事务状态和锁集合时持有
func (txn *Transaction) Lock() {
	txn.mu.Lock()
}

func (txn *Transaction) Unlock() {
	txn.mu.Unlock()
}

func (txn *Transaction) State() TxnState {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.state
}

// stateLocked 调用方已持有txn.mu
func (txn *Transaction) stateLocked() TxnState {
	return txn.state
}

// SetState 设置事务状态。状态不允许从shrinking退回growing。
func (txn *Transaction) SetState(state TxnState) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.setStateLocked(state)
}

func (txn *Transaction) setStateLocked(state TxnState) {
	if txn.state == TxnShrinking && state == TxnGrowing {
		panic("transaction state regressed from shrinking to growing")
	}
	txn.state = state
}

func (txn *Transaction) tableLockSet(mode LockMode) map[basic.TableID]struct{} {
	switch mode {
	case LockModeIntentionShared:
		return txn.intentionSharedTableLockSet
	case LockModeIntentionExclusive:
		return txn.intentionExclusiveTableLockSet
	case LockModeShared:
		return txn.sharedTableLockSet
	case LockModeSharedIntentionExclusive:
		return txn.sharedIntentionExclusiveSet
	case LockModeExclusive:
		return txn.exclusiveTableLockSet
	}
	panic("unknown table lock mode")
}

// IsTableLocked 事务是否以mode持有表锁，调用方需持有txn.mu
func (txn *Transaction) IsTableLocked(tableID basic.TableID, mode LockMode) bool {
	_, ok := txn.tableLockSet(mode)[tableID]
	return ok
}

// HeldTableLockMode 返回事务在表上持有的锁模式
func (txn *Transaction) HeldTableLockMode(tableID basic.TableID) (LockMode, bool) {
	for _, mode := range []LockMode{LockModeIntentionShared, LockModeIntentionExclusive,
		LockModeShared, LockModeSharedIntentionExclusive, LockModeExclusive} {
		if txn.IsTableLocked(tableID, mode) {
			return mode, true
		}
	}
	return LockModeIntentionShared, false
}

func (txn *Transaction) rowLockSet(mode LockMode) map[basic.TableID]ridSet {
	switch mode {
	case LockModeShared:
		return txn.sharedRowLockSet
	case LockModeExclusive:
		return txn.exclusiveRowLockSet
	}
	panic("row locks only support S and X modes")
}

// IsRowLocked 事务是否以mode持有行锁，调用方需持有txn.mu
func (txn *Transaction) IsRowLocked(tableID basic.TableID, rid basic.RID, mode LockMode) bool {
	rows, ok := txn.rowLockSet(mode)[tableID]
	if !ok {
		return false
	}
	_, ok = rows[rid.Hash()]
	return ok
}

// HasRowLocksOnTable 事务在表上是否仍持有任何行锁
func (txn *Transaction) HasRowLocksOnTable(tableID basic.TableID) bool {
	if rows, ok := txn.sharedRowLockSet[tableID]; ok && len(rows) > 0 {
		return true
	}
	if rows, ok := txn.exclusiveRowLockSet[tableID]; ok && len(rows) > 0 {
		return true
	}
	return false
}

func (txn *Transaction) addTableLock(tableID basic.TableID, mode LockMode) {
	txn.tableLockSet(mode)[tableID] = struct{}{}
}

func (txn *Transaction) removeTableLock(tableID basic.TableID, mode LockMode) {
	delete(txn.tableLockSet(mode), tableID)
}

func (txn *Transaction) addRowLock(tableID basic.TableID, rid basic.RID, mode LockMode) {
	set := txn.rowLockSet(mode)
	if set[tableID] == nil {
		set[tableID] = make(ridSet)
	}
	set[tableID][rid.Hash()] = rid
}

func (txn *Transaction) removeRowLock(tableID basic.TableID, rid basic.RID, mode LockMode) {
	if rows, ok := txn.rowLockSet(mode)[tableID]; ok {
		delete(rows, rid.Hash())
	}
}
