package main

import (
	"fmt"
	"os"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/blocks"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer_pool"
)

func main() {
	fmt.Println("=== Buffer Pool Demo ===")

	dir, err := os.MkdirTemp("", "xstorage_demo_bpm")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	diskMgr, err := blocks.NewDiskManager(dir, "demo.ibd", 4096)
	if err != nil {
		panic(err)
	}
	defer diskMgr.Close()

	// 3个帧，K=2，演示LRU-K淘汰
	bpm := buffer_pool.NewBufferPoolManager(3, 2, diskMgr)

	fmt.Println("\n1. Filling the pool...")
	var pageNos []basic.PageID
	for i := 0; i < 3; i++ {
		pageNo, page, err := bpm.NewPage()
		if err != nil {
			panic(err)
		}
		copy(page.GetContent(), fmt.Sprintf("page-%d", pageNo))
		pageNos = append(pageNos, pageNo)
		fmt.Printf("   new page %d\n", pageNo)
	}

	fmt.Println("\n2. Pool is full, NewPage must fail while everything is pinned...")
	if _, _, err := bpm.NewPage(); err != nil {
		fmt.Printf("   got expected error: %v\n", err)
	}

	fmt.Println("\n3. Unpinning page 0 makes room...")
	bpm.UnpinPage(pageNos[0], true)
	pageNo, _, err := bpm.NewPage()
	if err != nil {
		panic(err)
	}
	fmt.Printf("   new page %d evicted page %d\n", pageNo, pageNos[0])

	fmt.Println("\n4. Page 0 comes back from disk with its bytes intact...")
	bpm.UnpinPage(pageNo, false)
	page, err := bpm.FetchPage(pageNos[0], buffer_pool.AccessTypeLookup)
	if err != nil {
		panic(err)
	}
	fmt.Printf("   page %d content prefix: %q\n", pageNos[0], string(page.GetContent()[:8]))
	bpm.UnpinPage(pageNos[0], false)

	fmt.Printf("\nhit ratio: %.2f, evictions: %d\n", bpm.Stats().GetHitRatio(), bpm.Stats().EvictCount())
	fmt.Println("\n=== Demo completed ===")
}
