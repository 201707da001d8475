package pages

import (
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// 头页负载：根页面号
const offsetRootPage = PageHeaderSize

// HeaderPage 索引头页，唯一的负载是当前根页面号。树长高或收缩时根会变化，
// 头页让根的位置保持可寻址。
type HeaderPage struct {
	content []byte
}

func HeaderPageFromContent(content []byte) *HeaderPage {
	return &HeaderPage{content: content}
}

// Init 初始化头页，根页面号置为无效
func (p *HeaderPage) Init() {
	writePageType(p.content, PageTypeHeader)
	p.SetRootPageNo(basic.InvalidPageID)
}

func (p *HeaderPage) GetRootPageNo() basic.PageID {
	_, root := util.ReadUB4(p.content, offsetRootPage)
	return root
}

func (p *HeaderPage) SetRootPageNo(pageNo basic.PageID) {
	util.PutUB4(p.content, offsetRootPage, pageNo)
}
