package conf

import (
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xstorage-engine/logger"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
datadir                     = data
storage_page_size           = 16384
storage_buffer_pool_pages   = 256
storage_replacer_k          = 2
storage_leaf_max_size       = 255
storage_internal_max_size   = 255
lock_cycle_detection_ms     = 50
*/
type Cfg struct {
	Raw     *ini.File
	DataDir string
	AppName string

	// storage
	PageSize        uint32 `default:"16384" yaml:"storage_page_size" json:"storage_page_size,omitempty"`
	BufferPoolPages uint32 `default:"256" yaml:"storage_buffer_pool_pages" json:"storage_buffer_pool_pages,omitempty"`
	ReplacerK       int    `default:"2" yaml:"storage_replacer_k" json:"storage_replacer_k,omitempty"`
	LeafMaxSize     int    `default:"255" yaml:"storage_leaf_max_size" json:"storage_leaf_max_size,omitempty"`
	InternalMaxSize int    `default:"255" yaml:"storage_internal_max_size" json:"storage_internal_max_size,omitempty"`

	// lock manager
	CycleDetectionInterval time.Duration

	// logs
	LogError string `default:"logs/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"logs/storage.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:     ini.Empty(),
		DataDir: "data",
		AppName: "xstorage",

		PageSize:        16384,
		BufferPoolPages: 256,
		ReplacerK:       2,
		LeafMaxSize:     255,
		InternalMaxSize: 255,

		CycleDetectionInterval: 50 * time.Millisecond,

		LogError: "logs/error.log",
		LogInfos: "logs/storage.log",
		LogLevel: "info",
	}
}

// Load 从ini文件加载配置，文件缺失时保留默认值
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	if args.ConfigPath == "" {
		return cfg
	}
	iniFile, err := ini.Load(args.ConfigPath)
	if err != nil {
		logger.Warnf("加载配置文件时有异常: %v, 使用默认配置\n", err)
		return cfg
	}
	cfg.Raw = iniFile

	cfg.parseStorageCfg(cfg.Raw.Section("storage"))
	cfg.parseLockCfg(cfg.Raw.Section("lock"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) *Cfg {
	cfg.DataDir = section.Key("datadir").MustString(cfg.DataDir)
	cfg.PageSize = uint32(section.Key("storage_page_size").MustUint(uint(cfg.PageSize)))
	cfg.BufferPoolPages = uint32(section.Key("storage_buffer_pool_pages").MustUint(uint(cfg.BufferPoolPages)))
	cfg.ReplacerK = section.Key("storage_replacer_k").MustInt(cfg.ReplacerK)
	cfg.LeafMaxSize = section.Key("storage_leaf_max_size").MustInt(cfg.LeafMaxSize)
	cfg.InternalMaxSize = section.Key("storage_internal_max_size").MustInt(cfg.InternalMaxSize)

	if cfg.LeafMaxSize < 2 {
		logger.Warnf("storage_leaf_max_size %d 过小, 重置为 2\n", cfg.LeafMaxSize)
		cfg.LeafMaxSize = 2
	}
	if cfg.InternalMaxSize < 3 {
		logger.Warnf("storage_internal_max_size %d 过小, 重置为 3\n", cfg.InternalMaxSize)
		cfg.InternalMaxSize = 3
	}
	return cfg
}

func (cfg *Cfg) parseLockCfg(section *ini.Section) *Cfg {
	ms := section.Key("lock_cycle_detection_ms").MustInt(int(cfg.CycleDetectionInterval / time.Millisecond))
	cfg.CycleDetectionInterval = time.Duration(ms) * time.Millisecond
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	cfg.LogError = section.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)
	return cfg
}
