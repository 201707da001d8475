package blocks

import (
	"os"
	"path"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xstorage-engine/util"
)

// 存储中间层
type BlockFile struct {
	StorageFile *os.File
	FilePath    string
	FileName    string
	PageSize    uint32
	ReadNumber  int // 读数量
	WriteNumber int // 写数量
}

func NewBlockFile(filePath string, fileName string, pageSize uint32) (*BlockFile, error) {
	blockFile := new(BlockFile)
	blockFile.FilePath = filePath
	blockFile.FileName = fileName
	blockFile.PageSize = pageSize

	if err := os.MkdirAll(filePath, 0755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", filePath)
	}

	fullPath := path.Join(filePath, fileName)
	fileFlag, _ := util.PathExists(fullPath)
	if !fileFlag {
		f, err := os.Create(fullPath)
		if err != nil {
			return nil, errors.Wrapf(err, "create block file %s", fullPath)
		}
		f.Close()
	}
	osfile, err := os.OpenFile(fullPath, os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "open block file %s", fullPath)
	}
	blockFile.StorageFile = osfile
	return blockFile, nil
}

// ReadPageByNumber 按页号读取页面内容。从未写过的页面返回全零页。
func (blockFile *BlockFile) ReadPageByNumber(pageNumber uint32) ([]byte, error) {
	content := make([]byte, blockFile.PageSize)
	offset := int64(pageNumber) * int64(blockFile.PageSize)
	n, err := blockFile.StorageFile.ReadAt(content, offset)
	if err != nil && n == 0 {
		// 文件尾之后的页面视为空页
		return content, nil
	}
	blockFile.ReadNumber++
	return content, nil
}

// WritePageByNumber 按页号写入页面内容
func (blockFile *BlockFile) WritePageByNumber(pageNumber uint32, content []byte) error {
	if uint32(len(content)) != blockFile.PageSize {
		return errors.Errorf("page content size %d does not match page size %d", len(content), blockFile.PageSize)
	}
	offset := int64(pageNumber) * int64(blockFile.PageSize)
	if _, err := blockFile.StorageFile.WriteAt(content, offset); err != nil {
		return errors.Wrapf(err, "write page %d", pageNumber)
	}
	blockFile.WriteNumber++
	return nil
}

func (blockFile *BlockFile) Sync() error {
	return blockFile.StorageFile.Sync()
}

func (blockFile *BlockFile) Close() error {
	return blockFile.StorageFile.Close()
}
