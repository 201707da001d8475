package index

import (
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer_pool"
	"github.com/zhukovaskychina/xstorage-engine/storage/pages"
)

// IndexIterator 顺序遍历叶子链。迭代器持有当前叶子的读守卫，Next耗尽当前
// 叶子后沿nextPage前进，走到链尾变成end迭代器。
type IndexIterator struct {
	bpm   *buffer_pool.BufferPoolManager
	guard *buffer_pool.ReadPageGuard
	leaf  *pages.BTreeLeafPage
	index int
}

func newEndIterator(bpm *buffer_pool.BufferPoolManager) *IndexIterator {
	return &IndexIterator{bpm: bpm}
}

// IsEnd 是否已经走到链尾
func (it *IndexIterator) IsEnd() bool {
	return it.guard == nil
}

// Key 当前条目的键。拷贝返回，调用方可以在迭代器前进后继续持有。
func (it *IndexIterator) Key() []byte {
	if it.IsEnd() {
		panic("deref an end index iterator")
	}
	return copyKey(it.leaf.KeyAt(it.index))
}

// Value 当前条目的RID
func (it *IndexIterator) Value() basic.RID {
	if it.IsEnd() {
		panic("deref an end index iterator")
	}
	return it.leaf.ValueAt(it.index)
}

// Next 前进一个条目
func (it *IndexIterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	it.index++
	if it.index < it.leaf.GetSize() {
		return nil
	}
	nextPageNo := it.leaf.GetNextPageNo()
	it.guard.Drop()
	it.guard = nil
	it.leaf = nil
	it.index = 0
	if nextPageNo == basic.InvalidPageID {
		return nil
	}
	guard, err := it.bpm.FetchPageRead(nextPageNo)
	if err != nil {
		return err
	}
	it.guard = guard
	it.leaf = pages.LeafPageFromContent(guard.GetContent())
	return nil
}

// Close 提前结束遍历时释放叶子守卫。重复调用是无动作。
func (it *IndexIterator) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
		it.leaf = nil
	}
}

// Begin 指向首个条目的迭代器
func (tree *BPlusTree) Begin() (*IndexIterator, error) {
	headerGuard, err := tree.bpm.FetchPageRead(tree.headerPageNo)
	if err != nil {
		return nil, err
	}
	rootPageNo := pages.HeaderPageFromContent(headerGuard.GetContent()).GetRootPageNo()
	if rootPageNo == basic.InvalidPageID {
		headerGuard.Drop()
		return newEndIterator(tree.bpm), nil
	}

	guard, err := tree.bpm.FetchPageRead(rootPageNo)
	headerGuard.Drop()
	if err != nil {
		return nil, err
	}
	for !pages.IsLeafPage(guard.GetContent()) {
		internal := pages.InternalPageFromContent(guard.GetContent())
		childGuard, err := tree.bpm.FetchPageRead(internal.ChildAt(0))
		if err != nil {
			guard.Drop()
			return nil, err
		}
		guard.Drop()
		guard = childGuard
	}
	return &IndexIterator{
		bpm:   tree.bpm,
		guard: guard,
		leaf:  pages.LeafPageFromContent(guard.GetContent()),
	}, nil
}

// BeginAt 指向首个键不小于key的条目的迭代器
func (tree *BPlusTree) BeginAt(key []byte) (*IndexIterator, error) {
	headerGuard, err := tree.bpm.FetchPageRead(tree.headerPageNo)
	if err != nil {
		return nil, err
	}
	rootPageNo := pages.HeaderPageFromContent(headerGuard.GetContent()).GetRootPageNo()
	if rootPageNo == basic.InvalidPageID {
		headerGuard.Drop()
		return newEndIterator(tree.bpm), nil
	}

	guard, err := tree.bpm.FetchPageRead(rootPageNo)
	headerGuard.Drop()
	if err != nil {
		return nil, err
	}
	for !pages.IsLeafPage(guard.GetContent()) {
		internal := pages.InternalPageFromContent(guard.GetContent())
		childGuard, err := tree.bpm.FetchPageRead(internal.ChildAt(internal.Lookup(key, tree.comparator)))
		if err != nil {
			guard.Drop()
			return nil, err
		}
		guard.Drop()
		guard = childGuard
	}

	leaf := pages.LeafPageFromContent(guard.GetContent())
	it := &IndexIterator{bpm: tree.bpm, guard: guard, leaf: leaf}
	for it.index < leaf.GetSize() && tree.comparator(leaf.KeyAt(it.index), key) < 0 {
		it.index++
	}
	if it.index >= leaf.GetSize() {
		// 目标键比本叶所有键都大，落到下一个叶子的首条目
		if err := it.Next(); err != nil {
			it.Close()
			return nil, err
		}
	}
	return it, nil
}

// End end迭代器
func (tree *BPlusTree) End() *IndexIterator {
	return newEndIterator(tree.bpm)
}
