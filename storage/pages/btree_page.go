package pages

import (
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// KeyComparator 键比较器，返回负数、零、正数分别表示 a<b、a=b、a>b
type KeyComparator func(a, b []byte) int

// bTreePage 内部页和叶子页共享的头部访问逻辑
type bTreePage struct {
	content []byte
}

// GetSize 当前条目数。内部页统计子指针数量，叶子页统计键值对数量。
func (p *bTreePage) GetSize() int {
	_, size := util.ReadUB2(p.content, offsetCurrentSize)
	return int(size)
}

func (p *bTreePage) SetSize(size int) {
	util.PutUB2(p.content, offsetCurrentSize, uint16(size))
}

func (p *bTreePage) IncreaseSize(amount int) {
	p.SetSize(p.GetSize() + amount)
}

func (p *bTreePage) GetMaxSize() int {
	_, maxSize := util.ReadUB2(p.content, offsetMaxSize)
	return int(maxSize)
}

func (p *bTreePage) SetMaxSize(maxSize int) {
	util.PutUB2(p.content, offsetMaxSize, uint16(maxSize))
}

// GetMinSize 非根页面的最小条目数 ⌈max/2⌉
func (p *bTreePage) GetMinSize() int {
	return (p.GetMaxSize() + 1) / 2
}

func (p *bTreePage) GetKeySize() int {
	_, keySize := util.ReadUB2(p.content, offsetKeySize)
	return int(keySize)
}

func (p *bTreePage) SetKeySize(keySize int) {
	util.PutUB2(p.content, offsetKeySize, uint16(keySize))
}

func (p *bTreePage) IsLeafPage() bool {
	return readPageType(p.content) == PageTypeLeaf
}

func (p *bTreePage) Content() []byte {
	return p.content
}
