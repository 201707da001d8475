package blocks

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// DiskManager 负责页面粒度的文件读写和页号分配
type DiskManager struct {
	mu         sync.Mutex
	blockFile  *BlockFile
	pageSize   uint32
	nextPageNo basic.PageID
	freeList   []basic.PageID          // 已释放页号，分配时复用
	checksums  map[basic.PageID]uint64 // 每页最近一次写入的校验和
}

func NewDiskManager(dataDir string, fileName string, pageSize uint32) (*DiskManager, error) {
	blockFile, err := NewBlockFile(dataDir, fileName, pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "open disk manager")
	}
	return &DiskManager{
		blockFile: blockFile,
		pageSize:  pageSize,
		freeList:  make([]basic.PageID, 0),
		checksums: make(map[basic.PageID]uint64),
	}, nil
}

func (dm *DiskManager) PageSize() uint32 {
	return dm.pageSize
}

// AllocatePage 分配一个新的页号，优先复用已释放的页号
func (dm *DiskManager) AllocatePage() basic.PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if n := len(dm.freeList); n > 0 {
		pageNo := dm.freeList[n-1]
		dm.freeList = dm.freeList[:n-1]
		return pageNo
	}
	pageNo := dm.nextPageNo
	dm.nextPageNo++
	return pageNo
}

// DeallocatePage 归还页号
func (dm *DiskManager) DeallocatePage(pageNo basic.PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.checksums, pageNo)
	dm.freeList = append(dm.freeList, pageNo)
}

// ReadPage 读取页面内容到out。out必须恰好是一页大小。
func (dm *DiskManager) ReadPage(pageNo basic.PageID, out []byte) error {
	if uint32(len(out)) != dm.pageSize {
		return errors.Errorf("read buffer size %d does not match page size %d", len(out), dm.pageSize)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	content, err := dm.blockFile.ReadPageByNumber(pageNo)
	if err != nil {
		return errors.Wrapf(err, "read page %d", pageNo)
	}
	if expected, ok := dm.checksums[pageNo]; ok {
		if actual := util.HashCode(content); actual != expected {
			logger.Warnf("checksum mismatch on page %d: expected %d, got %d\n", pageNo, expected, actual)
		}
	}
	copy(out, content)
	return nil
}

// WritePage 写入页面内容并记录校验和
func (dm *DiskManager) WritePage(pageNo basic.PageID, content []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.blockFile.WritePageByNumber(pageNo, content); err != nil {
		return errors.Wrapf(err, "write page %d", pageNo)
	}
	dm.checksums[pageNo] = util.HashCode(content)
	return nil
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.blockFile.Sync(); err != nil {
		return errors.Wrap(err, "sync block file")
	}
	return dm.blockFile.Close()
}
