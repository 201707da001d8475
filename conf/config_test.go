package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCfg_Defaults(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{})
	assert.Equal(t, uint32(16384), cfg.PageSize)
	assert.Equal(t, uint32(256), cfg.BufferPoolPages)
	assert.Equal(t, 2, cfg.ReplacerK)
	assert.Equal(t, 50*time.Millisecond, cfg.CycleDetectionInterval)
}

func TestCfg_LoadFromIni(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "my.ini")
	content := `
[storage]
datadir                   = /tmp/xstorage
storage_page_size         = 4096
storage_buffer_pool_pages = 64
storage_replacer_k        = 3
storage_leaf_max_size     = 31
storage_internal_max_size = 31

[lock]
lock_cycle_detection_ms = 100

[logs]
log_level = debug
`
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: iniPath})
	assert.Equal(t, "/tmp/xstorage", cfg.DataDir)
	assert.Equal(t, uint32(4096), cfg.PageSize)
	assert.Equal(t, uint32(64), cfg.BufferPoolPages)
	assert.Equal(t, 3, cfg.ReplacerK)
	assert.Equal(t, 31, cfg.LeafMaxSize)
	assert.Equal(t, 100*time.Millisecond, cfg.CycleDetectionInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestCfg_FanoutFloors(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "my.ini")
	content := `
[storage]
storage_leaf_max_size     = 1
storage_internal_max_size = 2
`
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: iniPath})
	assert.Equal(t, 2, cfg.LeafMaxSize)
	assert.Equal(t, 3, cfg.InternalMaxSize)
}
