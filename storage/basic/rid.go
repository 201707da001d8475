package basic

import (
	"fmt"

	"github.com/zhukovaskychina/xstorage-engine/util"
)

// RID is a row identifier: the page holding the row plus the slot inside it.
type RID struct {
	PageNo PageID // 页面号
	SlotNo uint32 // 页内槽位号
}

func NewRID(pageNo PageID, slotNo uint32) RID {
	return RID{PageNo: pageNo, SlotNo: slotNo}
}

// Hash folds the rid into a uint64 suitable as a map key for the row lock
// table.
func (r RID) Hash() uint64 {
	var buff = append(util.ConvertUInt4Bytes(r.PageNo), util.ConvertUInt4Bytes(r.SlotNo)...)
	return util.HashCode(buff)
}

func (r RID) String() string {
	return fmt.Sprintf("%d_%d", r.PageNo, r.SlotNo)
}
