package basic

// PageID identifies a page inside a data file. Page ids are handed out by
// DiskManager.AllocatePage, which the buffer pool's NewPage calls: fresh ids
// grow monotonically, and ids released by DeallocatePage are handed out again.
type PageID = uint32

// FrameID is the index of a frame in the buffer pool's frame array.
type FrameID = int32

// TxnID identifies a transaction. Ids are monotonic, so a larger id always
// means a younger transaction.
type TxnID = int64

// TableID identifies a table for table granularity locks.
type TableID = uint32

const (
	// InvalidPageID 无效页面号
	InvalidPageID PageID = 0xFFFFFFFF

	// InvalidFrameID marks the absence of a frame.
	InvalidFrameID FrameID = -1

	// InvalidTxnID 无效事务ID
	InvalidTxnID TxnID = -1

	// DefaultPageSize 默认页面大小 16KB
	DefaultPageSize uint32 = 16384
)
