package pages

import (
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

const leafValueSize = 8 // RID: 页面号4字节 + 槽位号4字节

// BTreeLeafPage 叶子页。条目按键升序紧凑排列，每个条目为 key[keySize] + RID。
// 页尾通过nextPage串成按键序的单向链表。
type BTreeLeafPage struct {
	bTreePage
}

func LeafPageFromContent(content []byte) *BTreeLeafPage {
	return &BTreeLeafPage{bTreePage{content: content}}
}

// Init 初始化一个新的叶子页
func (p *BTreeLeafPage) Init(maxSize int, keySize int) {
	writePageType(p.content, PageTypeLeaf)
	p.SetSize(0)
	p.SetMaxSize(maxSize)
	p.SetKeySize(keySize)
	p.SetNextPageNo(basic.InvalidPageID)
}

func (p *BTreeLeafPage) GetNextPageNo() basic.PageID {
	_, next := util.ReadUB4(p.content, offsetNextPage)
	return next
}

func (p *BTreeLeafPage) SetNextPageNo(pageNo basic.PageID) {
	util.PutUB4(p.content, offsetNextPage, pageNo)
}

func (p *BTreeLeafPage) stride() int {
	return p.GetKeySize() + leafValueSize
}

func (p *BTreeLeafPage) entryOffset(index int) int {
	return PageHeaderSize + index*p.stride()
}

// KeyAt 第index个条目的键，返回的是页内切片
func (p *BTreeLeafPage) KeyAt(index int) []byte {
	off := p.entryOffset(index)
	return p.content[off : off+p.GetKeySize()]
}

func (p *BTreeLeafPage) SetKeyAt(index int, key []byte) {
	off := p.entryOffset(index)
	copy(p.content[off:off+p.GetKeySize()], key)
}

func (p *BTreeLeafPage) ValueAt(index int) basic.RID {
	off := p.entryOffset(index) + p.GetKeySize()
	_, pageNo := util.ReadUB4(p.content, off)
	_, slotNo := util.ReadUB4(p.content, off+4)
	return basic.RID{PageNo: pageNo, SlotNo: slotNo}
}

func (p *BTreeLeafPage) SetValueAt(index int, rid basic.RID) {
	off := p.entryOffset(index) + p.GetKeySize()
	util.PutUB4(p.content, off, rid.PageNo)
	util.PutUB4(p.content, off+4, rid.SlotNo)
}

// Lookup 在页内查找键，返回条目下标，未找到返回-1
func (p *BTreeLeafPage) Lookup(key []byte, comparator KeyComparator) int {
	size := p.GetSize()
	for i := 0; i < size; i++ {
		if comparator(key, p.KeyAt(i)) == 0 {
			return i
		}
	}
	return -1
}

// 插入结果
const (
	LeafInsertOK        = 0
	LeafInsertDuplicate = 1
	LeafInsertFull      = -1
)

// Insert 按序插入键值对
func (p *BTreeLeafPage) Insert(key []byte, rid basic.RID, comparator KeyComparator) int {
	size := p.GetSize()
	index := 0
	for ; index < size; index++ {
		res := comparator(p.KeyAt(index), key)
		if res == 0 {
			return LeafInsertDuplicate
		}
		if res > 0 {
			break
		}
	}
	if size >= p.GetMaxSize() {
		return LeafInsertFull
	}
	if index != size {
		stride := p.stride()
		from := p.entryOffset(index)
		to := p.entryOffset(index + 1)
		copy(p.content[to:to+(size-index)*stride], p.content[from:from+(size-index)*stride])
	}
	p.SetKeyAt(index, key)
	p.SetValueAt(index, rid)
	p.IncreaseSize(1)
	return LeafInsertOK
}

// SplitInsert 页面已满时的分裂插入：在逻辑上先插入新条目得到max+1个条目，
// 左页保留 ⌈(max+1)/2⌉ 个，其余进入right。nextPage链由调用方修补。
func (p *BTreeLeafPage) SplitInsert(right *BTreeLeafPage, key []byte, rid basic.RID, comparator KeyComparator) {
	size := p.GetSize()
	if size != p.GetMaxSize() {
		panic("leaf split on a page that is not full")
	}
	stride := p.stride()

	index := 0
	for ; index < size; index++ {
		if comparator(key, p.KeyAt(index)) < 0 {
			break
		}
	}

	combined := make([]byte, (size+1)*stride)
	copy(combined, p.content[p.entryOffset(0):p.entryOffset(index)])
	copy(combined[index*stride:], key)
	util.PutUB4(combined, index*stride+p.GetKeySize(), rid.PageNo)
	util.PutUB4(combined, index*stride+p.GetKeySize()+4, rid.SlotNo)
	copy(combined[(index+1)*stride:], p.content[p.entryOffset(index):p.entryOffset(size)])

	total := size + 1
	leftCount := (total + 1) / 2
	rightCount := total - leftCount

	copy(p.content[PageHeaderSize:], combined[:leftCount*stride])
	copy(right.content[PageHeaderSize:], combined[leftCount*stride:total*stride])
	p.SetSize(leftCount)
	right.SetSize(rightCount)
}

// 删除结果
const (
	LeafRemoveOK        = 0
	LeafRemoveUnderflow = 1
)

// Remove 删除键对应的条目。键不存在时是无动作。
func (p *BTreeLeafPage) Remove(key []byte, comparator KeyComparator) int {
	size := p.GetSize()
	if size == 0 {
		panic("remove from an empty leaf page")
	}
	for index := 0; index < size; index++ {
		if comparator(p.KeyAt(index), key) == 0 {
			if index != size-1 {
				stride := p.stride()
				from := p.entryOffset(index + 1)
				to := p.entryOffset(index)
				copy(p.content[to:to+(size-index-1)*stride], p.content[from:from+(size-index-1)*stride])
			}
			p.IncreaseSize(-1)
			if p.GetSize() < p.GetMinSize() {
				return LeafRemoveUnderflow
			}
			return LeafRemoveOK
		}
	}
	return LeafRemoveOK
}

// MergeFrom 将right的全部条目并入本页并接管其nextPage
func (p *BTreeLeafPage) MergeFrom(right *BTreeLeafPage) {
	size := p.GetSize()
	rightSize := right.GetSize()
	stride := p.stride()
	copy(p.content[p.entryOffset(size):p.entryOffset(size+rightSize)],
		right.content[PageHeaderSize:PageHeaderSize+rightSize*stride])
	p.IncreaseSize(rightSize)
	p.SetNextPageNo(right.GetNextPageNo())
}
