package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhukovaskychina/xstorage-engine/storage/basic"
)

func TestLRUKReplacer_HistoryListEvictionOrder(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	// 三个帧各访问一次，都停留在history侧
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.RecordAccess(2, AccessTypeUnknown)
	replacer.RecordAccess(3, AccessTypeUnknown)
	replacer.SetEvictable(1, true)
	replacer.SetEvictable(2, true)
	replacer.SetEvictable(3, true)
	assert.Equal(t, 3, replacer.Size())

	// 首次访问最早的先被淘汰
	victim, ok := replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(1), victim)

	victim, ok = replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(2), victim)

	victim, ok = replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(3), victim)

	_, ok = replacer.Evict()
	assert.False(t, ok)
	assert.Equal(t, 0, replacer.Size())
}

func TestLRUKReplacer_PrefersHistoryOverCache(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	// 帧1和帧2访问两次进入cache侧，帧3只访问一次
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.RecordAccess(2, AccessTypeUnknown)
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.RecordAccess(2, AccessTypeUnknown)
	replacer.RecordAccess(3, AccessTypeUnknown)
	replacer.SetEvictable(1, true)
	replacer.SetEvictable(2, true)
	replacer.SetEvictable(3, true)

	// 访问次数不足K的帧优先被淘汰
	victim, ok := replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(3), victim)

	// cache侧按倒数第K次访问从旧到新淘汰
	victim, ok = replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(1), victim)

	victim, ok = replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(2), victim)
}

func TestLRUKReplacer_BackwardKDistance(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	// ts: 1=f1, 2=f2, 3=f1, 4=f2, 5=f1
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.RecordAccess(2, AccessTypeUnknown)
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.RecordAccess(2, AccessTypeUnknown)
	replacer.RecordAccess(1, AccessTypeUnknown)
	replacer.SetEvictable(1, true)
	replacer.SetEvictable(2, true)

	// f1倒数第2次访问在ts3，f2在ts2，f2更旧先被淘汰
	victim, ok := replacer.Evict()
	assert.True(t, ok)
	assert.Equal(t, basic.FrameID(2), victim)
}

func TestLRUKReplacer_SetEvictableTogglesSize(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	replacer.RecordAccess(1, AccessTypeUnknown)
	assert.Equal(t, 0, replacer.Size())

	replacer.SetEvictable(1, true)
	assert.Equal(t, 1, replacer.Size())

	replacer.SetEvictable(1, false)
	assert.Equal(t, 0, replacer.Size())

	_, ok := replacer.Evict()
	assert.False(t, ok)
}

func TestLRUKReplacer_RemovePinnedPanics(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	replacer.RecordAccess(1, AccessTypeUnknown)
	assert.Panics(t, func() {
		replacer.Remove(1)
	})

	// 未跟踪的帧直接返回
	replacer.Remove(99)

	replacer.SetEvictable(1, true)
	replacer.Remove(1)
	assert.Equal(t, 0, replacer.Size())
}
