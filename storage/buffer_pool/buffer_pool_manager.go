package buffer_pool

import (
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/blocks"
	"github.com/zhukovaskychina/xstorage-engine/storage/pages"
)

// BufferPoolManager 管理固定数量的页帧。页表和空闲列表由一把互斥锁保护，
// 页面内容另有每帧的读写闩。锁序固定为：缓冲池互斥锁 -> 帧闩，并且磁盘IO
// 在持有互斥锁期间完成。
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize uint32
	pageSize uint32

	frames    []*pages.BufferPage            // 帧数组，下标即FrameID
	pageTable map[basic.PageID]basic.FrameID // 在池页面 -> 帧
	freeList  []basic.FrameID                // 空闲帧
	replacer  *LRUKReplacer
	diskMgr   *blocks.DiskManager

	stats *Stats
}

func NewBufferPoolManager(poolSize uint32, replacerK int, diskMgr *blocks.DiskManager) *BufferPoolManager {
	bpm := &BufferPoolManager{
		poolSize:  poolSize,
		pageSize:  diskMgr.PageSize(),
		frames:    make([]*pages.BufferPage, poolSize),
		pageTable: make(map[basic.PageID]basic.FrameID),
		freeList:  make([]basic.FrameID, 0, poolSize),
		replacer:  NewLRUKReplacer(poolSize, replacerK),
		diskMgr:   diskMgr,
		stats:     &Stats{},
	}
	for i := uint32(0); i < poolSize; i++ {
		bpm.frames[i] = pages.NewBufferPage(bpm.pageSize)
		bpm.freeList = append(bpm.freeList, basic.FrameID(i))
	}
	return bpm
}

func (bpm *BufferPoolManager) PoolSize() uint32 {
	return bpm.poolSize
}

func (bpm *BufferPoolManager) PageSize() uint32 {
	return bpm.pageSize
}

func (bpm *BufferPoolManager) Stats() *Stats {
	return bpm.stats
}

// acquireFrame 取得一个可复用的帧：优先空闲列表，否则请求淘汰。
// 脏的受害者先写回磁盘。调用方必须持有bpm.mu。
func (bpm *BufferPoolManager) acquireFrame() (basic.FrameID, bool) {
	if n := len(bpm.freeList); n > 0 {
		frameID := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		return basic.InvalidFrameID, false
	}
	frame := bpm.frames[frameID]
	if frame.PinCount() != 0 {
		panic("evicted a pinned frame")
	}
	if frame.IsDirty() {
		if err := bpm.diskMgr.WritePage(frame.GetPageNo(), frame.GetContent()); err != nil {
			logger.Errorf("failed to write dirty page %d during eviction: %v\n", frame.GetPageNo(), err)
		}
		bpm.stats.RecordPageWrite()
	}
	delete(bpm.pageTable, frame.GetPageNo())
	bpm.stats.RecordEviction()
	frame.Reset()
	return frameID, true
}

// NewPage 分配一个新页面并把它装入某个帧，pin计数为1
func (bpm *BufferPoolManager) NewPage() (basic.PageID, *pages.BufferPage, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.acquireFrame()
	if !ok {
		return basic.InvalidPageID, nil, ErrBufferPoolFull
	}
	pageNo := bpm.diskMgr.AllocatePage()

	frame := bpm.frames[frameID]
	frame.Reset()
	frame.SetPageNo(pageNo)
	frame.SetDirty(true)
	frame.Pin()

	bpm.pageTable[pageNo] = frameID
	bpm.replacer.RecordAccess(frameID, AccessTypeUnknown)
	bpm.replacer.SetEvictable(frameID, false)
	return pageNo, frame, nil
}

// FetchPage 取得页面并pin住。不在池内时从磁盘装载。
func (bpm *BufferPoolManager) FetchPage(pageNo basic.PageID, accessType AccessType) (*pages.BufferPage, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable[pageNo]; ok {
		frame := bpm.frames[frameID]
		frame.Pin()
		bpm.replacer.RecordAccess(frameID, accessType)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.stats.RecordPageHit()
		return frame, nil
	}

	bpm.stats.RecordPageMiss()
	frameID, ok := bpm.acquireFrame()
	if !ok {
		return nil, ErrBufferPoolFull
	}
	frame := bpm.frames[frameID]
	if err := bpm.diskMgr.ReadPage(pageNo, frame.GetContent()); err != nil {
		// 帧还没有进页表，直接归还空闲列表
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, err
	}
	frame.SetPageNo(pageNo)
	frame.Pin()

	bpm.pageTable[pageNo] = frameID
	bpm.replacer.RecordAccess(frameID, accessType)
	bpm.replacer.SetEvictable(frameID, false)
	return frame, nil
}

// UnpinPage 归还一次pin。页面不在池内或pin计数已经为0时返回false。
// 脏标记只增不减，直到页面被刷盘。
func (bpm *BufferPoolManager) UnpinPage(pageNo basic.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageNo]
	if !ok {
		return false
	}
	frame := bpm.frames[frameID]
	if frame.PinCount() == 0 {
		return false
	}
	if isDirty {
		frame.SetDirty(true)
	}
	if frame.Unpin() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage 无条件把页面写回磁盘并清除脏标记。页面保持在池内，pin不变。
func (bpm *BufferPoolManager) FlushPage(pageNo basic.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushPageLocked(pageNo)
}

func (bpm *BufferPoolManager) flushPageLocked(pageNo basic.PageID) bool {
	frameID, ok := bpm.pageTable[pageNo]
	if !ok {
		return false
	}
	frame := bpm.frames[frameID]
	if err := bpm.diskMgr.WritePage(pageNo, frame.GetContent()); err != nil {
		logger.Errorf("failed to flush page %d: %v\n", pageNo, err)
		return false
	}
	frame.SetDirty(false)
	bpm.stats.RecordPageWrite()
	return true
}

// FlushAllPages 刷新所有在池页面
func (bpm *BufferPoolManager) FlushAllPages() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	for pageNo := range bpm.pageTable {
		bpm.flushPageLocked(pageNo)
	}
}

// DeletePage 把页面从池中删除并把页号归还给磁盘管理器。
// 页面不在池内视为成功；被pin住时返回false。
func (bpm *BufferPoolManager) DeletePage(pageNo basic.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageNo]
	if !ok {
		return true
	}
	frame := bpm.frames[frameID]
	if frame.PinCount() > 0 {
		return false
	}
	delete(bpm.pageTable, pageNo)
	bpm.replacer.Remove(frameID)
	bpm.freeList = append(bpm.freeList, frameID)
	frame.Reset()
	bpm.diskMgr.DeallocatePage(pageNo)
	return true
}
