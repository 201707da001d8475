package main

import (
	"flag"
	"fmt"

	"github.com/zhukovaskychina/xstorage-engine/conf"
	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
	"github.com/zhukovaskychina/xstorage-engine/storage/blocks"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer_pool"
	"github.com/zhukovaskychina/xstorage-engine/storage/index"
	"github.com/zhukovaskychina/xstorage-engine/storage/manager"
)

const help = `
******************************************************************************************
*XStorage Engine - 页式存储与并发控制内核
*帮助:
*1. -- help
*2. -- configPath   指定my.ini配置文件
******************************************************************************************
`

func main() {
	fmt.Println("Starting XStorage Engine...")
	fmt.Print(help)

	// 解析命令行参数
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.Parse()

	args := &conf.CommandLineArgs{
		ConfigPath: configPath,
	}

	config := conf.NewCfg().Load(args)

	// 初始化日志
	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	logger.Infof("Logger initialized successfully with level: %s\n", config.LogLevel)

	// 打开存储引擎
	diskMgr, err := blocks.NewDiskManager(config.DataDir, "xstorage.ibd", config.PageSize)
	if err != nil {
		logger.Fatalf("Failed to open disk manager: %v\n", err)
	}
	defer diskMgr.Close()

	bpm := buffer_pool.NewBufferPoolManager(config.BufferPoolPages, config.ReplacerK, diskMgr)

	txnMgr := manager.NewTransactionManager()
	lockMgr := manager.NewLockManager(txnMgr, config.CycleDetectionInterval)
	defer lockMgr.Close()

	headerPageNo, headerGuard, err := bpm.NewPageGuarded()
	if err != nil {
		logger.Fatalf("Failed to allocate index header page: %v\n", err)
	}
	headerGuard.Drop()

	tree, err := index.NewBPlusTree("primary", headerPageNo, bpm, index.CompareBinary,
		index.Int64KeySize, config.LeafMaxSize, config.InternalMaxSize)
	if err != nil {
		logger.Fatalf("Failed to open index: %v\n", err)
	}

	// 冒烟流程：一个事务锁表、写入索引、读回、提交
	txn := txnMgr.Begin(manager.RepeatableRead)
	if ok, err := lockMgr.LockTable(txn, manager.LockModeExclusive, basic.TableID(1)); !ok {
		logger.Fatalf("Failed to lock table: %v\n", err)
	}

	for i := int64(1); i <= 64; i++ {
		if _, err := tree.Insert(index.Int64Key(i), basic.NewRID(basic.PageID(i), uint32(i))); err != nil {
			logger.Fatalf("Insert failed: %v\n", err)
		}
	}
	for i := int64(1); i <= 64; i++ {
		if _, found, _ := tree.GetValue(index.Int64Key(i)); !found {
			logger.Fatalf("key %d not found after insert\n", i)
		}
	}
	txnMgr.Commit(txn)

	bpm.FlushAllPages()
	logger.Infof("smoke workload finished, buffer pool hit ratio %.2f\n", bpm.Stats().GetHitRatio())
	logger.Info("XStorage Engine shut down cleanly")
}
