package pages

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

/*
*
页面控制体。content字段是真正存数据的页面缓冲区，其余字段是缓冲池用来做
淘汰和并发控制的元信息：页号、脏标记、pin计数以及页面内容的读写闩。
*
*/
type BufferPage struct {
	// 基本信息
	pageNo basic.PageID

	// 页面内容
	content []byte

	// 状态标记
	dirty    bool
	pinCount int32

	// 页面内容读写闩，与缓冲池自身的互斥锁相互独立
	latch sync.RWMutex
}

func NewBufferPage(pageSize uint32) *BufferPage {
	return &BufferPage{
		pageNo:  basic.InvalidPageID,
		content: make([]byte, pageSize),
	}
}

// GetContent 获取页面内容
func (bp *BufferPage) GetContent() []byte {
	return bp.content
}

// GetPageNo 获取页面号
func (bp *BufferPage) GetPageNo() basic.PageID {
	return bp.pageNo
}

// SetPageNo 设置页面号
func (bp *BufferPage) SetPageNo(pageNo basic.PageID) {
	bp.pageNo = pageNo
}

// IsDirty 页面是否为脏页
func (bp *BufferPage) IsDirty() bool {
	return bp.dirty
}

// SetDirty 设置脏标记
func (bp *BufferPage) SetDirty(dirty bool) {
	bp.dirty = dirty
}

// PinCount 当前pin计数
func (bp *BufferPage) PinCount() int32 {
	return atomic.LoadInt32(&bp.pinCount)
}

// Pin 增加pin计数
func (bp *BufferPage) Pin() int32 {
	return atomic.AddInt32(&bp.pinCount, 1)
}

// Unpin 减少pin计数。pin计数不允许为负。
func (bp *BufferPage) Unpin() int32 {
	newCount := atomic.AddInt32(&bp.pinCount, -1)
	if newCount < 0 {
		panic("buffer page pin count underflow")
	}
	return newCount
}

// Reset 清空页面内容和元信息，归还到空闲列表前调用
func (bp *BufferPage) Reset() {
	for i := range bp.content {
		bp.content[i] = 0
	}
	bp.pageNo = basic.InvalidPageID
	bp.dirty = false
	atomic.StoreInt32(&bp.pinCount, 0)
}

// RLatch 获取共享闩
func (bp *BufferPage) RLatch() {
	bp.latch.RLock()
}

// RUnlatch 释放共享闩
func (bp *BufferPage) RUnlatch() {
	bp.latch.RUnlock()
}

// WLatch 获取排他闩
func (bp *BufferPage) WLatch() {
	bp.latch.Lock()
}

// WUnlatch 释放排他闩
func (bp *BufferPage) WUnlatch() {
	bp.latch.Unlock()
}
