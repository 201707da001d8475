package buffer_pool

import (
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/pages"
)

// 页面守卫是对pin住的帧的作用域所有权。守卫之间传递所有权使用指针，
// Drop之后的守卫是惰性的，重复Drop是无动作。B+树只经由守卫读写页面内容；
// 缓冲池同时导出的NewPage/FetchPage直接返回裸帧指针，不带守卫，
// 这样拿到的pin只能由调用方用UnpinPage归还。

// BufferPageGuard 只持有pin。Drop时带着观察到的脏标记归还pin。
type BufferPageGuard struct {
	bpm     *BufferPoolManager
	page    *pages.BufferPage
	isDirty bool
}

// PageNo 守卫住的页面号
func (g *BufferPageGuard) PageNo() basic.PageID {
	return g.page.GetPageNo()
}

// GetContent 只读视角的页面内容
func (g *BufferPageGuard) GetContent() []byte {
	return g.page.GetContent()
}

// GetContentMut 可写视角的页面内容，页面随之变脏
func (g *BufferPageGuard) GetContentMut() []byte {
	g.isDirty = true
	return g.page.GetContent()
}

// Drop 归还pin。可以安全地重复调用。
func (g *BufferPageGuard) Drop() {
	if g.bpm != nil && g.page != nil {
		g.bpm.UnpinPage(g.page.GetPageNo(), g.isDirty)
	}
	g.bpm = nil
	g.page = nil
	g.isDirty = false
}

// ReadPageGuard 持有pin和共享闩。Drop时先放闩再归还pin。
type ReadPageGuard struct {
	guard BufferPageGuard
}

func (g *ReadPageGuard) PageNo() basic.PageID {
	return g.guard.page.GetPageNo()
}

func (g *ReadPageGuard) GetContent() []byte {
	return g.guard.page.GetContent()
}

func (g *ReadPageGuard) Drop() {
	if g.guard.bpm == nil || g.guard.page == nil {
		return
	}
	page := g.guard.page
	page.RUnlatch()
	g.guard.Drop()
}

// WritePageGuard 持有pin和排他闩。Drop时先放闩再归还pin。
type WritePageGuard struct {
	guard BufferPageGuard
}

func (g *WritePageGuard) PageNo() basic.PageID {
	return g.guard.page.GetPageNo()
}

func (g *WritePageGuard) GetContent() []byte {
	return g.guard.page.GetContent()
}

// GetContentMut 可写视角的页面内容，页面随之变脏
func (g *WritePageGuard) GetContentMut() []byte {
	return g.guard.GetContentMut()
}

func (g *WritePageGuard) Drop() {
	if g.guard.bpm == nil || g.guard.page == nil {
		return
	}
	page := g.guard.page
	page.WUnlatch()
	g.guard.Drop()
}

// FetchPageBasic 取页并返回仅持pin的守卫
func (bpm *BufferPoolManager) FetchPageBasic(pageNo basic.PageID) (*BufferPageGuard, error) {
	page, err := bpm.FetchPage(pageNo, AccessTypeUnknown)
	if err != nil {
		return nil, err
	}
	return &BufferPageGuard{bpm: bpm, page: page}, nil
}

// FetchPageRead 取页、加共享闩并返回读守卫。帧闩在缓冲池互斥锁之外获取。
func (bpm *BufferPoolManager) FetchPageRead(pageNo basic.PageID) (*ReadPageGuard, error) {
	page, err := bpm.FetchPage(pageNo, AccessTypeUnknown)
	if err != nil {
		return nil, err
	}
	page.RLatch()
	return &ReadPageGuard{guard: BufferPageGuard{bpm: bpm, page: page}}, nil
}

// FetchPageWrite 取页、加排他闩并返回写守卫
func (bpm *BufferPoolManager) FetchPageWrite(pageNo basic.PageID) (*WritePageGuard, error) {
	page, err := bpm.FetchPage(pageNo, AccessTypeUnknown)
	if err != nil {
		return nil, err
	}
	page.WLatch()
	return &WritePageGuard{guard: BufferPageGuard{bpm: bpm, page: page}}, nil
}

// NewPageGuarded 分配新页面并返回仅持pin的守卫。新页面在发布页号之前
// 只有调用方引用，无需帧闩即可初始化。
func (bpm *BufferPoolManager) NewPageGuarded() (basic.PageID, *BufferPageGuard, error) {
	pageNo, page, err := bpm.NewPage()
	if err != nil {
		return basic.InvalidPageID, nil, err
	}
	return pageNo, &BufferPageGuard{bpm: bpm, page: page, isDirty: true}, nil
}
