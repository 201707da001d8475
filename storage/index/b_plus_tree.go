package index

import (
	"fmt"

	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer_pool"
	"github.com/zhukovaskychina/xstorage-engine/storage/pages"
)

// BPlusTree 聚簇B+树索引：定宽键到RID的有序映射，所有节点都是缓冲池管理
// 的页面。头页持久化当前根页号，树长高或收缩时根随之变化。
//
// 读路径使用共享闩做闩耦合下降，拿到子页后立即释放父页；写路径使用排他闩
// 下降并在栈里保留祖先守卫，到达叶子后释放确定不会分裂（或不会下溢）的
// 祖先。
type BPlusTree struct {
	indexName string
	bpm       *buffer_pool.BufferPoolManager

	comparator pages.KeyComparator
	keySize    int

	leafMaxSize     int
	internalMaxSize int

	headerPageNo basic.PageID
}

func NewBPlusTree(indexName string, headerPageNo basic.PageID, bpm *buffer_pool.BufferPoolManager,
	comparator pages.KeyComparator, keySize int, leafMaxSize int, internalMaxSize int) (*BPlusTree, error) {
	if leafMaxSize < 2 {
		panic(fmt.Sprintf("leaf max size %d is too small", leafMaxSize))
	}
	if internalMaxSize < 3 {
		panic(fmt.Sprintf("internal max size %d is too small", internalMaxSize))
	}
	tree := &BPlusTree{
		indexName:       indexName,
		bpm:             bpm,
		comparator:      comparator,
		keySize:         keySize,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		headerPageNo:    headerPageNo,
	}

	guard, err := bpm.FetchPageWrite(headerPageNo)
	if err != nil {
		return nil, err
	}
	defer guard.Drop()
	// 页面类型标记自描述：重新打开已有索引时保留根页号
	if pages.GetPageType(guard.GetContent()) != pages.PageTypeHeader {
		pages.HeaderPageFromContent(guard.GetContentMut()).Init()
	}
	return tree, nil
}

// GetRootPageId 当前根页号，空树返回InvalidPageID
func (tree *BPlusTree) GetRootPageId() (basic.PageID, error) {
	guard, err := tree.bpm.FetchPageRead(tree.headerPageNo)
	if err != nil {
		return basic.InvalidPageID, err
	}
	defer guard.Drop()
	return pages.HeaderPageFromContent(guard.GetContent()).GetRootPageNo(), nil
}

// IsEmpty 树是否为空
func (tree *BPlusTree) IsEmpty() (bool, error) {
	rootPageNo, err := tree.GetRootPageId()
	if err != nil {
		return false, err
	}
	return rootPageNo == basic.InvalidPageID, nil
}

/*****************************************************************************
 * SEARCH
 *****************************************************************************/

// GetValue 点查。读侧闩耦合：拿到子页守卫后父页守卫立即释放。
func (tree *BPlusTree) GetValue(key []byte) (basic.RID, bool, error) {
	headerGuard, err := tree.bpm.FetchPageRead(tree.headerPageNo)
	if err != nil {
		return basic.RID{}, false, err
	}
	rootPageNo := pages.HeaderPageFromContent(headerGuard.GetContent()).GetRootPageNo()
	if rootPageNo == basic.InvalidPageID {
		headerGuard.Drop()
		return basic.RID{}, false, nil
	}

	guard, err := tree.bpm.FetchPageRead(rootPageNo)
	headerGuard.Drop()
	if err != nil {
		return basic.RID{}, false, err
	}

	for !pages.IsLeafPage(guard.GetContent()) {
		internal := pages.InternalPageFromContent(guard.GetContent())
		childPos := internal.Lookup(key, tree.comparator)
		childPageNo := internal.ChildAt(childPos)
		childGuard, err := tree.bpm.FetchPageRead(childPageNo)
		if err != nil {
			guard.Drop()
			return basic.RID{}, false, err
		}
		guard.Drop()
		guard = childGuard
	}

	leaf := pages.LeafPageFromContent(guard.GetContent())
	if i := leaf.Lookup(key, tree.comparator); i >= 0 {
		rid := leaf.ValueAt(i)
		guard.Drop()
		return rid, true, nil
	}
	guard.Drop()
	return basic.RID{}, false, nil
}

/*****************************************************************************
 * INSERTION
 *****************************************************************************/

// ancestorFrame 写下降过程中保留的祖先守卫及在其中选取的子指针位置
type ancestorFrame struct {
	guard    *buffer_pool.WritePageGuard
	childPos int
}

func dropAncestors(ancestors []ancestorFrame) {
	for i := range ancestors {
		ancestors[i].guard.Drop()
	}
}

// copyKey 上提键和分隔键必须从页面切片里拷出来，守卫释放后页帧随时可能
// 被淘汰复用
func copyKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

// Insert 插入键值对，重复键返回false
func (tree *BPlusTree) Insert(key []byte, rid basic.RID) (bool, error) {
	headerGuard, err := tree.bpm.FetchPageWrite(tree.headerPageNo)
	if err != nil {
		return false, err
	}
	headerPage := pages.HeaderPageFromContent(headerGuard.GetContent())
	rootPageNo := headerPage.GetRootPageNo()

	// 空树：新建只有一个条目的根叶子
	if rootPageNo == basic.InvalidPageID {
		newPageNo, newGuard, err := tree.bpm.NewPageGuarded()
		if err != nil {
			headerGuard.Drop()
			return false, err
		}
		leaf := pages.LeafPageFromContent(newGuard.GetContentMut())
		leaf.Init(tree.leafMaxSize, tree.keySize)
		leaf.Insert(key, rid, tree.comparator)
		pages.HeaderPageFromContent(headerGuard.GetContentMut()).SetRootPageNo(newPageNo)
		newGuard.Drop()
		headerGuard.Drop()
		return true, nil
	}

	headerDropped := false
	dropHeader := func() {
		if !headerDropped {
			headerGuard.Drop()
			headerDropped = true
		}
	}

	// 写侧下降，保留祖先守卫
	var ancestors []ancestorFrame
	guard, err := tree.bpm.FetchPageWrite(rootPageNo)
	if err != nil {
		dropHeader()
		return false, err
	}
	for !pages.IsLeafPage(guard.GetContent()) {
		internal := pages.InternalPageFromContent(guard.GetContent())
		childPos := internal.Lookup(key, tree.comparator)
		childPageNo := internal.ChildAt(childPos)
		ancestors = append(ancestors, ancestorFrame{guard: guard, childPos: childPos})
		guard, err = tree.bpm.FetchPageWrite(childPageNo)
		if err != nil {
			dropHeader()
			dropAncestors(ancestors)
			return false, err
		}
	}

	// 释放不可能分裂的祖先：从最上层起，只要下一层已有空位就放掉上一层
	for len(ancestors) > 1 {
		next := pages.InternalPageFromContent(ancestors[1].guard.GetContent())
		if next.GetSize() < next.GetMaxSize() {
			if ancestors[0].guard.PageNo() == rootPageNo {
				dropHeader()
			}
			ancestors[0].guard.Drop()
			ancestors = ancestors[1:]
			continue
		}
		break
	}
	leaf := pages.LeafPageFromContent(guard.GetContentMut())
	switch leaf.Insert(key, rid, tree.comparator) {
	case pages.LeafInsertOK:
		guard.Drop()
		dropAncestors(ancestors)
		dropHeader()
		return true, nil
	case pages.LeafInsertDuplicate:
		guard.Drop()
		dropAncestors(ancestors)
		dropHeader()
		return false, nil
	}

	// 叶子已满：分裂并把右叶首键上提
	newPageNo, newGuard, err := tree.bpm.NewPageGuarded()
	if err != nil {
		guard.Drop()
		dropAncestors(ancestors)
		dropHeader()
		return false, err
	}
	newLeaf := pages.LeafPageFromContent(newGuard.GetContentMut())
	newLeaf.Init(tree.leafMaxSize, tree.keySize)
	leaf.SplitInsert(newLeaf, key, rid, tree.comparator)
	newLeaf.SetNextPageNo(leaf.GetNextPageNo())
	leaf.SetNextPageNo(newPageNo)

	upKey := copyKey(newLeaf.KeyAt(0))
	leftPageNo := guard.PageNo()
	rightPageNo := newPageNo
	newGuard.Drop()
	guard.Drop()

	// 沿祖先栈向上插入上提键，必要时继续分裂内部页
	for len(ancestors) > 0 {
		top := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]
		internal := pages.InternalPageFromContent(top.guard.GetContentMut())
		insertIndex := top.childPos + 1
		if internal.InsertAt(insertIndex, upKey, rightPageNo) {
			top.guard.Drop()
			dropAncestors(ancestors)
			dropHeader()
			return true, nil
		}

		splitPageNo, splitGuard, err := tree.bpm.NewPageGuarded()
		if err != nil {
			top.guard.Drop()
			dropAncestors(ancestors)
			dropHeader()
			return false, err
		}
		splitInternal := pages.InternalPageFromContent(splitGuard.GetContentMut())
		splitInternal.Init(tree.internalMaxSize, tree.keySize)
		upKey = internal.SplitInsert(splitInternal, insertIndex, upKey, rightPageNo)
		leftPageNo = top.guard.PageNo()
		rightPageNo = splitPageNo
		splitGuard.Drop()
		top.guard.Drop()
	}

	// 根被分裂：新建根(哨兵, 旧根, 上提键, 新兄弟)
	newRootPageNo, rootGuard, err := tree.bpm.NewPageGuarded()
	if err != nil {
		dropHeader()
		return false, err
	}
	newRoot := pages.InternalPageFromContent(rootGuard.GetContentMut())
	newRoot.Init(tree.internalMaxSize, tree.keySize)
	newRoot.SetChildAt(0, leftPageNo)
	newRoot.SetKeyAt(1, upKey)
	newRoot.SetChildAt(1, rightPageNo)
	newRoot.SetSize(2)
	rootGuard.Drop()

	if headerDropped {
		panic("header guard released while the root was split")
	}
	pages.HeaderPageFromContent(headerGuard.GetContentMut()).SetRootPageNo(newRootPageNo)
	dropHeader()
	logger.Debugf("btree %s grew, new root page %d\n", tree.indexName, newRootPageNo)
	return true, nil
}

/*****************************************************************************
 * REMOVE
 *****************************************************************************/

// Remove 删除键对应的条目。键不存在时是无动作。
func (tree *BPlusTree) Remove(key []byte) error {
	headerGuard, err := tree.bpm.FetchPageWrite(tree.headerPageNo)
	if err != nil {
		return err
	}
	headerPage := pages.HeaderPageFromContent(headerGuard.GetContent())
	rootPageNo := headerPage.GetRootPageNo()
	if rootPageNo == basic.InvalidPageID {
		headerGuard.Drop()
		return nil
	}

	headerDropped := false
	dropHeader := func() {
		if !headerDropped {
			headerGuard.Drop()
			headerDropped = true
		}
	}

	var ancestors []ancestorFrame
	guard, err := tree.bpm.FetchPageWrite(rootPageNo)
	if err != nil {
		dropHeader()
		return err
	}
	for !pages.IsLeafPage(guard.GetContent()) {
		internal := pages.InternalPageFromContent(guard.GetContent())
		childPos := internal.Lookup(key, tree.comparator)
		childPageNo := internal.ChildAt(childPos)
		ancestors = append(ancestors, ancestorFrame{guard: guard, childPos: childPos})
		guard, err = tree.bpm.FetchPageWrite(childPageNo)
		if err != nil {
			dropHeader()
			dropAncestors(ancestors)
			return err
		}
	}

	leaf := pages.LeafPageFromContent(guard.GetContentMut())

	// 根本身就是叶子：不受最小条目数约束，删空后整树为空
	if len(ancestors) == 0 {
		leaf.Remove(key, tree.comparator)
		if leaf.GetSize() == 0 {
			leafPageNo := guard.PageNo()
			guard.Drop()
			tree.bpm.DeletePage(leafPageNo)
			pages.HeaderPageFromContent(headerGuard.GetContentMut()).SetRootPageNo(basic.InvalidPageID)
			dropHeader()
			return nil
		}
		guard.Drop()
		dropHeader()
		return nil
	}

	// 释放不可能下溢的祖先
	for len(ancestors) > 1 {
		next := pages.InternalPageFromContent(ancestors[1].guard.GetContent())
		if next.GetSize() > next.GetMinSize() {
			if ancestors[0].guard.PageNo() == rootPageNo {
				dropHeader()
			}
			ancestors[0].guard.Drop()
			ancestors = ancestors[1:]
			continue
		}
		break
	}

	if leaf.Remove(key, tree.comparator) == pages.LeafRemoveOK {
		guard.Drop()
		dropAncestors(ancestors)
		dropHeader()
		return nil
	}

	// 叶子下溢：先尝试从兄弟借，借不到就合并
	delIndex, err := tree.rebalanceLeaf(guard, leaf, &ancestors)
	if err != nil {
		dropAncestors(ancestors)
		dropHeader()
		return err
	}
	if delIndex < 0 {
		dropAncestors(ancestors)
		dropHeader()
		return nil
	}

	// 合并删掉了一个叶子，沿祖先栈向上删除对应的分隔条目
	for len(ancestors) > 0 {
		top := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]
		internal := pages.InternalPageFromContent(top.guard.GetContentMut())

		if top.guard.PageNo() == rootPageNo {
			internal.RemoveAt(delIndex)
			if internal.GetSize() == 1 {
				// 根只剩一个孩子：孩子成为新根
				newRootPageNo := internal.ChildAt(0)
				oldRootPageNo := top.guard.PageNo()
				top.guard.Drop()
				tree.bpm.DeletePage(oldRootPageNo)
				pages.HeaderPageFromContent(headerGuard.GetContentMut()).SetRootPageNo(newRootPageNo)
				logger.Debugf("btree %s shrank, new root page %d\n", tree.indexName, newRootPageNo)
				dropHeader()
				return nil
			}
			top.guard.Drop()
			dropHeader()
			return nil
		}

		if internal.RemoveAt(delIndex) == pages.InternalRemoveOK {
			top.guard.Drop()
			dropAncestors(ancestors)
			dropHeader()
			return nil
		}

		delIndex, err = tree.rebalanceInternal(top, &ancestors)
		if err != nil {
			dropAncestors(ancestors)
			dropHeader()
			return err
		}
		if delIndex < 0 {
			dropAncestors(ancestors)
			dropHeader()
			return nil
		}
	}
	dropHeader()
	return nil
}

// rebalanceLeaf 处理叶子下溢。返回负数表示重分布已经解决问题；返回非负数
// 表示发生了合并，父页中该下标的分隔条目需要删除。叶子守卫和兄弟守卫都在
// 返回前释放。
func (tree *BPlusTree) rebalanceLeaf(guard *buffer_pool.WritePageGuard, leaf *pages.BTreeLeafPage,
	ancestors *[]ancestorFrame) (int, error) {
	parentFrame := (*ancestors)[len(*ancestors)-1]
	parent := pages.InternalPageFromContent(parentFrame.guard.GetContentMut())
	childPos := parentFrame.childPos
	parentSize := parent.GetSize()

	var leftGuard, rightGuard *buffer_pool.WritePageGuard
	var leftLeaf, rightLeaf *pages.BTreeLeafPage
	var err error

	dropSiblings := func() {
		if leftGuard != nil {
			leftGuard.Drop()
		}
		if rightGuard != nil {
			rightGuard.Drop()
		}
	}

	// 优先从左兄弟借
	if childPos > 0 {
		leftGuard, err = tree.bpm.FetchPageWrite(parent.ChildAt(childPos - 1))
		if err != nil {
			guard.Drop()
			return 0, err
		}
		leftLeaf = pages.LeafPageFromContent(leftGuard.GetContentMut())
		if leftLeaf.GetSize() > leftLeaf.GetMinSize() {
			lastIdx := leftLeaf.GetSize() - 1
			borrowKey := copyKey(leftLeaf.KeyAt(lastIdx))
			borrowRID := leftLeaf.ValueAt(lastIdx)
			leftLeaf.IncreaseSize(-1)
			leaf.Insert(borrowKey, borrowRID, tree.comparator)
			parent.SetKeyAt(childPos, borrowKey)
			dropSiblings()
			guard.Drop()
			return -1, nil
		}
	}

	// 再尝试右兄弟
	if childPos < parentSize-1 {
		rightGuard, err = tree.bpm.FetchPageWrite(parent.ChildAt(childPos + 1))
		if err != nil {
			dropSiblings()
			guard.Drop()
			return 0, err
		}
		rightLeaf = pages.LeafPageFromContent(rightGuard.GetContentMut())
		if rightLeaf.GetSize() > rightLeaf.GetMinSize() {
			borrowKey := copyKey(rightLeaf.KeyAt(0))
			borrowRID := rightLeaf.ValueAt(0)
			rightLeaf.Remove(borrowKey, tree.comparator)
			tail := leaf.GetSize()
			leaf.SetKeyAt(tail, borrowKey)
			leaf.SetValueAt(tail, borrowRID)
			leaf.IncreaseSize(1)
			parent.SetKeyAt(childPos+1, copyKey(rightLeaf.KeyAt(0)))
			dropSiblings()
			guard.Drop()
			return -1, nil
		}
	}

	// 没有兄弟能借出条目：合并。优先并入左兄弟。
	if leftLeaf != nil {
		leftLeaf.MergeFrom(leaf)
		leafPageNo := guard.PageNo()
		guard.Drop()
		dropSiblings()
		tree.bpm.DeletePage(leafPageNo)
		return childPos, nil
	}

	leaf.MergeFrom(rightLeaf)
	rightPageNo := rightGuard.PageNo()
	rightGuard.Drop()
	rightGuard = nil
	guard.Drop()
	tree.bpm.DeletePage(rightPageNo)
	return childPos + 1, nil
}

// rebalanceInternal 处理内部页下溢，语义与rebalanceLeaf一致。内部页的重
// 分布要经由父页旋转分隔键：兄弟的键顶替父页分隔键，旧分隔键下沉到缺额页。
func (tree *BPlusTree) rebalanceInternal(frame ancestorFrame, ancestors *[]ancestorFrame) (int, error) {
	cur := pages.InternalPageFromContent(frame.guard.GetContentMut())
	parentFrame := (*ancestors)[len(*ancestors)-1]
	parent := pages.InternalPageFromContent(parentFrame.guard.GetContentMut())
	childPos := parentFrame.childPos
	parentSize := parent.GetSize()

	var leftGuard, rightGuard *buffer_pool.WritePageGuard
	var leftPage, rightPage *pages.BTreeInternalPage
	var err error

	dropSiblings := func() {
		if leftGuard != nil {
			leftGuard.Drop()
		}
		if rightGuard != nil {
			rightGuard.Drop()
		}
	}

	if childPos > 0 {
		leftGuard, err = tree.bpm.FetchPageWrite(parent.ChildAt(childPos - 1))
		if err != nil {
			frame.guard.Drop()
			return 0, err
		}
		leftPage = pages.InternalPageFromContent(leftGuard.GetContentMut())
		if leftPage.GetSize() > leftPage.GetMinSize() {
			lastIdx := leftPage.GetSize() - 1
			borrowKey := copyKey(leftPage.KeyAt(lastIdx))
			borrowChild := leftPage.ChildAt(lastIdx)
			leftPage.IncreaseSize(-1)
			cur.InsertAt(1, copyKey(parent.KeyAt(childPos)), cur.ChildAt(0))
			cur.SetChildAt(0, borrowChild)
			parent.SetKeyAt(childPos, borrowKey)
			dropSiblings()
			frame.guard.Drop()
			return -1, nil
		}
	}

	if childPos < parentSize-1 {
		rightGuard, err = tree.bpm.FetchPageWrite(parent.ChildAt(childPos + 1))
		if err != nil {
			dropSiblings()
			frame.guard.Drop()
			return 0, err
		}
		rightPage = pages.InternalPageFromContent(rightGuard.GetContentMut())
		if rightPage.GetSize() > rightPage.GetMinSize() {
			cur.InsertAt(cur.GetSize(), copyKey(parent.KeyAt(childPos+1)), rightPage.ChildAt(0))
			rightPage.SetChildAt(0, rightPage.ChildAt(1))
			parent.SetKeyAt(childPos+1, copyKey(rightPage.KeyAt(1)))
			rightPage.RemoveAt(1)
			dropSiblings()
			frame.guard.Drop()
			return -1, nil
		}
	}

	// 合并：分隔键从父页下沉
	if leftPage != nil {
		leftPage.MergeFrom(copyKey(parent.KeyAt(childPos)), cur)
		curPageNo := frame.guard.PageNo()
		frame.guard.Drop()
		dropSiblings()
		tree.bpm.DeletePage(curPageNo)
		return childPos, nil
	}

	cur.MergeFrom(copyKey(parent.KeyAt(childPos+1)), rightPage)
	rightPageNo := rightGuard.PageNo()
	rightGuard.Drop()
	rightGuard = nil
	frame.guard.Drop()
	tree.bpm.DeletePage(rightPageNo)
	return childPos + 1, nil
}
