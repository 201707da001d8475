package buffer_pool

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

// AccessType 页面访问类型。RecordAccess接受该参数但不使用，它不影响淘汰
type AccessType int

const (
	AccessTypeUnknown AccessType = iota
	AccessTypeLookup
	AccessTypeScan
	AccessTypeIndex
)

// lruKNode 每个在池帧的淘汰元信息
type lruKNode struct {
	frameID basic.FrameID
	// 最近K次访问的时间戳，最旧的在前。访问次数少于K次时，history[0]
	// 就是首次访问时间。
	history   []uint64
	evictable bool
	inCache   bool
}

// LRUKReplacer 在未被pin住的帧里挑选淘汰受害者。
//
// 访问次数少于K次的帧挂在historyList上，淘汰时优先选择其中首次访问最早的；
// historyList为空时从cacheList上选择第K次往前访问距离最大（即倒数第K次访问
// 最旧）的帧。两条链表都按进入顺序排列，时间戳相同时先进入的先被淘汰。
type LRUKReplacer struct {
	mu sync.Mutex

	k            int
	replacerSize uint32
	timestamp    uint64 // 全局单调计数器

	historyList *list.List // 访问次数 < K 的帧
	cacheList   *list.List // 访问次数 >= K 的帧

	nodeStore     map[basic.FrameID]*list.Element
	evictableSize int
}

func NewLRUKReplacer(numFrames uint32, k int) *LRUKReplacer {
	if k < 1 {
		panic(fmt.Sprintf("invalid replacer k: %d", k))
	}
	return &LRUKReplacer{
		k:            k,
		replacerSize: numFrames,
		historyList:  list.New(),
		cacheList:    list.New(),
		nodeStore:    make(map[basic.FrameID]*list.Element),
	}
}

// RecordAccess 记录一次帧访问。第一次见到的帧进入historyList，
// 第K次访问时迁移到cacheList。
func (r *LRUKReplacer) RecordAccess(frameID basic.FrameID, accessType AccessType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp++
	elem, ok := r.nodeStore[frameID]
	if !ok {
		if uint32(len(r.nodeStore)) >= r.replacerSize {
			panic(fmt.Sprintf("replacer tracks more frames than pool size %d", r.replacerSize))
		}
		node := &lruKNode{frameID: frameID, history: []uint64{r.timestamp}}
		if r.k == 1 {
			node.inCache = true
			r.nodeStore[frameID] = r.cacheList.PushBack(node)
		} else {
			r.nodeStore[frameID] = r.historyList.PushBack(node)
		}
		return
	}

	node := elem.Value.(*lruKNode)
	node.history = append(node.history, r.timestamp)
	if len(node.history) > r.k {
		node.history = node.history[1:]
	}
	if len(node.history) == r.k && !node.inCache {
		r.historyList.Remove(elem)
		node.inCache = true
		r.nodeStore[frameID] = r.cacheList.PushBack(node)
	}
}

// SetEvictable 切换帧的可淘汰标记并维护可淘汰计数
func (r *LRUKReplacer) SetEvictable(frameID basic.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.nodeStore[frameID]
	if !ok {
		panic(fmt.Sprintf("frame %d is not tracked by the replacer", frameID))
	}
	node := elem.Value.(*lruKNode)
	if node.evictable == evictable {
		return
	}
	node.evictable = evictable
	if evictable {
		r.evictableSize++
	} else {
		r.evictableSize--
	}
}

// Evict 选择一个可淘汰帧并停止跟踪它。没有可淘汰帧时返回false。
func (r *LRUKReplacer) Evict() (basic.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if victim := r.pickVictim(r.historyList); victim != nil {
		r.removeNode(victim)
		return victim.frameID, true
	}
	if victim := r.pickVictim(r.cacheList); victim != nil {
		r.removeNode(victim)
		return victim.frameID, true
	}
	return basic.InvalidFrameID, false
}

// pickVictim 在一条链表上选择history[0]最小的可淘汰帧。historyList上
// 这是首次访问时间，cacheList上这是倒数第K次访问时间。
func (r *LRUKReplacer) pickVictim(l *list.List) *lruKNode {
	var victim *lruKNode
	for e := l.Front(); e != nil; e = e.Next() {
		node := e.Value.(*lruKNode)
		if !node.evictable {
			continue
		}
		if victim == nil || node.history[0] < victim.history[0] {
			victim = node
		}
	}
	return victim
}

func (r *LRUKReplacer) removeNode(node *lruKNode) {
	elem := r.nodeStore[node.frameID]
	if node.inCache {
		r.cacheList.Remove(elem)
	} else {
		r.historyList.Remove(elem)
	}
	delete(r.nodeStore, node.frameID)
	if node.evictable {
		r.evictableSize--
	}
}

// Remove 停止跟踪一个帧。帧必须是可淘汰的，否则视为编程错误。
func (r *LRUKReplacer) Remove(frameID basic.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.nodeStore[frameID]
	if !ok {
		return
	}
	node := elem.Value.(*lruKNode)
	if !node.evictable {
		panic(fmt.Sprintf("frame %d is pinned and cannot be removed from the replacer", frameID))
	}
	r.removeNode(node)
}

// Size 当前可淘汰帧的数量
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableSize
}
