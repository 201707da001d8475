package pages

import (
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// PageType 页面类型标记，持久化在每页的前两个字节，页面布局自描述
type PageType uint16

const (
	PageTypeInvalid  PageType = 0
	PageTypeInternal PageType = 1
	PageTypeLeaf     PageType = 2
	PageTypeHeader   PageType = 3
)

// 页面公共头布局，所有字段LSB在前
//
//	[0:2)   pageType
//	[2:4)   currentSize
//	[4:6)   maxSize
//	[6:8)   keySize
//	[8:12)  nextPage (仅叶子页使用)
//	[12:)   紧凑的(key,value)条目
const (
	offsetPageType    = 0
	offsetCurrentSize = 2
	offsetMaxSize     = 4
	offsetKeySize     = 6
	offsetNextPage    = 8
	PageHeaderSize    = 12
)

func readPageType(content []byte) PageType {
	_, t := util.ReadUB2(content, offsetPageType)
	return PageType(t)
}

func writePageType(content []byte, pageType PageType) {
	util.PutUB2(content, offsetPageType, uint16(pageType))
}

// GetPageType 读取页面类型标记
func GetPageType(content []byte) PageType {
	return readPageType(content)
}

// IsLeafPage 页面是否为叶子页
func IsLeafPage(content []byte) bool {
	return readPageType(content) == PageTypeLeaf
}
