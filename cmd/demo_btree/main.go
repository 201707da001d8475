package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/blocks"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer_pool"
	"github.com/zhukovaskychina/xstorage-engine/storage/index"
)

func main() {
	fmt.Println("=== B+Tree Demo ===")

	dir, err := os.MkdirTemp("", "xstorage_demo_btree")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	diskMgr, err := blocks.NewDiskManager(dir, "demo.ibd", 4096)
	if err != nil {
		panic(err)
	}
	defer diskMgr.Close()
	bpm := buffer_pool.NewBufferPoolManager(64, 2, diskMgr)

	headerPageNo, headerGuard, err := bpm.NewPageGuarded()
	if err != nil {
		panic(err)
	}
	headerGuard.Drop()

	tree, err := index.NewBPlusTree("demo", headerPageNo, bpm, index.CompareBinary,
		index.Int64KeySize, 7, 7)
	if err != nil {
		panic(err)
	}

	fmt.Println("\n1. Inserting keys 1..200 in shuffled order...")
	keys := rand.New(rand.NewSource(42)).Perm(200)
	for _, k := range keys {
		key := int64(k + 1)
		if _, err := tree.Insert(index.Int64Key(key), basic.NewRID(basic.PageID(key), 0)); err != nil {
			panic(err)
		}
	}

	fmt.Println("2. Scanning back in order...")
	it, err := tree.Begin()
	if err != nil {
		panic(err)
	}
	count := 0
	prev := int64(0)
	for !it.IsEnd() {
		cur := index.DecodeInt64Key(it.Key())
		if cur <= prev {
			panic("iterator out of order")
		}
		prev = cur
		count++
		if err := it.Next(); err != nil {
			panic(err)
		}
	}
	fmt.Printf("   scanned %d keys in strictly increasing order\n", count)

	fmt.Println("3. Removing the odd keys...")
	for k := int64(1); k <= 200; k += 2 {
		if err := tree.Remove(index.Int64Key(k)); err != nil {
			panic(err)
		}
	}
	for k := int64(1); k <= 200; k++ {
		_, found, err := tree.GetValue(index.Int64Key(k))
		if err != nil {
			panic(err)
		}
		if found != (k%2 == 0) {
			panic(fmt.Sprintf("unexpected lookup result for key %d", k))
		}
	}
	fmt.Println("   even keys retrievable, odd keys gone")

	fmt.Println("\n=== Demo completed ===")
}
