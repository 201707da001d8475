package pages

import (
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

const internalValueSize = 4 // 子页面号

// BTreeInternalPage 内部页。条目为 key[keySize] + 子页面号，size统计子指针数量。
// 0号槽位的键是哨兵，不参与比较；child[i] 覆盖 [key[i], key[i+1]) 区间。
type BTreeInternalPage struct {
	bTreePage
}

func InternalPageFromContent(content []byte) *BTreeInternalPage {
	return &BTreeInternalPage{bTreePage{content: content}}
}

// Init 初始化一个新的内部页
func (p *BTreeInternalPage) Init(maxSize int, keySize int) {
	writePageType(p.content, PageTypeInternal)
	p.SetSize(0)
	p.SetMaxSize(maxSize)
	p.SetKeySize(keySize)
	util.PutUB4(p.content, offsetNextPage, basic.InvalidPageID)
}

func (p *BTreeInternalPage) stride() int {
	return p.GetKeySize() + internalValueSize
}

func (p *BTreeInternalPage) entryOffset(index int) int {
	return PageHeaderSize + index*p.stride()
}

// KeyAt 第index个条目的键，index为0时内容无意义
func (p *BTreeInternalPage) KeyAt(index int) []byte {
	off := p.entryOffset(index)
	return p.content[off : off+p.GetKeySize()]
}

func (p *BTreeInternalPage) SetKeyAt(index int, key []byte) {
	off := p.entryOffset(index)
	copy(p.content[off:off+p.GetKeySize()], key)
}

func (p *BTreeInternalPage) ChildAt(index int) basic.PageID {
	off := p.entryOffset(index) + p.GetKeySize()
	_, pageNo := util.ReadUB4(p.content, off)
	return pageNo
}

func (p *BTreeInternalPage) SetChildAt(index int, pageNo basic.PageID) {
	off := p.entryOffset(index) + p.GetKeySize()
	util.PutUB4(p.content, off, pageNo)
}

// Lookup 返回键应当落入的子指针下标
func (p *BTreeInternalPage) Lookup(key []byte, comparator KeyComparator) int {
	size := p.GetSize()
	i := 1
	for i < size && comparator(key, p.KeyAt(i)) >= 0 {
		i++
	}
	return i - 1
}

// InsertAt 在index处插入(key,child)，页面已满时返回false
func (p *BTreeInternalPage) InsertAt(index int, key []byte, child basic.PageID) bool {
	size := p.GetSize()
	if size >= p.GetMaxSize() {
		return false
	}
	if index != size {
		stride := p.stride()
		from := p.entryOffset(index)
		to := p.entryOffset(index + 1)
		copy(p.content[to:to+(size-index)*stride], p.content[from:from+(size-index)*stride])
	}
	p.SetKeyAt(index, key)
	p.SetChildAt(index, child)
	p.IncreaseSize(1)
	return true
}

// SplitInsert 页面已满时的分裂插入。在index处插入(key,child)后共有max+1个
// 子指针，左页保留 ⌈(max+1)/2⌉ 个，中间键上提（不落入任何一侧），其余进入
// right。返回上提键的拷贝。
func (p *BTreeInternalPage) SplitInsert(right *BTreeInternalPage, index int, key []byte, child basic.PageID) []byte {
	size := p.GetSize()
	if size != p.GetMaxSize() {
		panic("internal split on a page that is not full")
	}
	stride := p.stride()
	keySize := p.GetKeySize()

	combined := make([]byte, (size+1)*stride)
	copy(combined, p.content[p.entryOffset(0):p.entryOffset(index)])
	copy(combined[index*stride:], key)
	util.PutUB4(combined, index*stride+keySize, child)
	copy(combined[(index+1)*stride:], p.content[p.entryOffset(index):p.entryOffset(size)])

	total := size + 1
	leftCount := (total + 1) / 2
	rightCount := total - leftCount

	promoted := make([]byte, keySize)
	copy(promoted, combined[leftCount*stride:leftCount*stride+keySize])

	copy(p.content[PageHeaderSize:], combined[:leftCount*stride])
	// 右页0号槽位的键是哨兵，上提键不拷贝也无妨，这里保持条目整体搬移
	copy(right.content[PageHeaderSize:], combined[leftCount*stride:total*stride])
	p.SetSize(leftCount)
	right.SetSize(rightCount)
	return promoted
}

// 删除结果
const (
	InternalRemoveOK        = 0
	InternalRemoveUnderflow = 1
)

// RemoveAt 删除index处的条目
func (p *BTreeInternalPage) RemoveAt(index int) int {
	size := p.GetSize()
	if size == 0 {
		panic("remove from an empty internal page")
	}
	if index != size-1 {
		stride := p.stride()
		from := p.entryOffset(index + 1)
		to := p.entryOffset(index)
		copy(p.content[to:to+(size-index-1)*stride], p.content[from:from+(size-index-1)*stride])
	}
	p.IncreaseSize(-1)
	if p.GetSize() < p.GetMinSize() {
		return InternalRemoveUnderflow
	}
	return InternalRemoveOK
}

// MergeFrom 将right并入本页：分隔键下沉为right首个子指针的键
func (p *BTreeInternalPage) MergeFrom(separator []byte, right *BTreeInternalPage) {
	size := p.GetSize()
	rightSize := right.GetSize()
	stride := p.stride()
	copy(p.content[p.entryOffset(size):p.entryOffset(size+rightSize)],
		right.content[PageHeaderSize:PageHeaderSize+rightSize*stride])
	p.SetKeyAt(size, separator)
	p.IncreaseSize(rightSize)
}
