package manager

import (
	"sort"
	"time"

	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

// waits-for图上的死锁检测。后台任务周期性地在所有资源队列上重建图：
// 每条队列里未授予请求的事务向所有已授予请求的事务连边。检出环后中止
// 环上最年轻（事务号最大）的事务并唤醒它等待的队列，循环直到无环。

// AddEdge 添加一条t1等待t2的边，重复添加是无动作
func (lm *LockManager) AddEdge(t1, t2 basic.TxnID) {
	lm.waitsForMu.Lock()
	defer lm.waitsForMu.Unlock()
	lm.addEdgeLocked(t1, t2)
}

func (lm *LockManager) addEdgeLocked(t1, t2 basic.TxnID) {
	for _, t := range lm.waitsFor[t1] {
		if t == t2 {
			return
		}
	}
	lm.waitsFor[t1] = append(lm.waitsFor[t1], t2)
}

// RemoveEdge 删除t1等待t2的边
func (lm *LockManager) RemoveEdge(t1, t2 basic.TxnID) {
	lm.waitsForMu.Lock()
	defer lm.waitsForMu.Unlock()
	lm.removeEdgeLocked(t1, t2)
}

func (lm *LockManager) removeEdgeLocked(t1, t2 basic.TxnID) {
	vec := lm.waitsFor[t1]
	for i, t := range vec {
		if t == t2 {
			lm.waitsFor[t1] = append(vec[:i], vec[i+1:]...)
			return
		}
	}
}

// GetEdgeList 返回图中所有边
func (lm *LockManager) GetEdgeList() [][2]basic.TxnID {
	lm.waitsForMu.Lock()
	defer lm.waitsForMu.Unlock()
	edges := make([][2]basic.TxnID, 0)
	for from, tos := range lm.waitsFor {
		for _, to := range tos {
			edges = append(edges, [2]basic.TxnID{from, to})
		}
	}
	return edges
}

// HasCycle 检测图中是否有环。有环时返回环上最大的事务号。
func (lm *LockManager) HasCycle() (basic.TxnID, bool) {
	lm.waitsForMu.Lock()
	defer lm.waitsForMu.Unlock()
	return lm.hasCycleLocked()
}

const (
	dfsWhite = 0 // 未访问
	dfsGray  = 1 // 在当前DFS路径上
	dfsBlack = 2 // 已完成
)

// hasCycleLocked 确定性的环检测：顶点和邻接表都按事务号排序后做DFS，
// 用显式栈避免深递归。
func (lm *LockManager) hasCycleLocked() (basic.TxnID, bool) {
	vertices := make([]basic.TxnID, 0, len(lm.waitsFor))
	for txnID, adj := range lm.waitsFor {
		vertices = append(vertices, txnID)
		sort.Slice(adj, func(i, j int) bool { return adj[i] < adj[j] })
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i] < vertices[j] })

	color := make(map[basic.TxnID]int)
	for _, start := range vertices {
		if color[start] != dfsWhite {
			continue
		}
		// 显式栈记录DFS路径，每帧记住下一条待探索的边
		type dfsFrame struct {
			txnID basic.TxnID
			next  int
		}
		stack := []dfsFrame{{txnID: start}}
		color[start] = dfsGray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			adj := lm.waitsFor[top.txnID]
			if top.next >= len(adj) {
				color[top.txnID] = dfsBlack
				stack = stack[:len(stack)-1]
				continue
			}
			target := adj[top.next]
			top.next++
			switch color[target] {
			case dfsGray:
				// 发现环：从栈里找到环的起点，取环上最大的事务号
				victim := target
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i].txnID > victim {
						victim = stack[i].txnID
					}
					if stack[i].txnID == target {
						break
					}
				}
				return victim, true
			case dfsWhite:
				color[target] = dfsGray
				stack = append(stack, dfsFrame{txnID: target})
			}
		}
	}
	return basic.InvalidTxnID, false
}

// runCycleDetection 死锁检测循环
func (lm *LockManager) runCycleDetection() {
	ticker := time.NewTicker(lm.cycleDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lm.detectOnce()
		case <-lm.stopChan:
			return
		}
	}
}

// detectOnce 重建waits-for图并消解所有环
func (lm *LockManager) detectOnce() {
	lm.waitsForMu.Lock()
	lm.tableLockMapMu.Lock()
	lm.rowLockMapMu.Lock()
	defer func() {
		lm.rowLockMapMu.Unlock()
		lm.tableLockMapMu.Unlock()
		lm.waitsForMu.Unlock()
	}()

	lm.waitsFor = make(map[basic.TxnID][]basic.TxnID)
	waitQueues := make(map[basic.TxnID][]*LockRequestQueue)

	collect := func(q *LockRequestQueue) {
		q.mu.Lock()
		defer q.mu.Unlock()
		var granted, ungranted []basic.TxnID
		for e := q.requests.Front(); e != nil; e = e.Next() {
			req := e.Value.(*LockRequest)
			if req.granted {
				granted = append(granted, req.txnID)
			} else {
				ungranted = append(ungranted, req.txnID)
				waitQueues[req.txnID] = append(waitQueues[req.txnID], q)
			}
		}
		for _, waiter := range ungranted {
			for _, holder := range granted {
				lm.addEdgeLocked(waiter, holder)
			}
		}
	}

	for _, q := range lm.tableLockMap {
		collect(q)
	}
	for _, q := range lm.rowLockMap {
		collect(q)
	}

	for {
		victim, ok := lm.hasCycleLocked()
		if !ok {
			break
		}
		if victim == basic.InvalidTxnID {
			panic("cycle detected but no victim selected")
		}
		logger.Infof("deadlock detected, aborting youngest transaction %d\n", victim)
		if txn := lm.txnMgr.GetTransaction(victim); txn != nil {
			txn.SetState(TxnAborted)
		}
		for _, to := range append([]basic.TxnID(nil), lm.waitsFor[victim]...) {
			lm.removeEdgeLocked(victim, to)
		}
		for _, q := range waitQueues[victim] {
			q.cond.Broadcast()
		}
	}

	lm.waitsFor = make(map[basic.TxnID][]basic.TxnID)
}
