package trie

import "sync"

// ValueGuard 把值和它所属的树版本一起交给读者，读者持有期间该版本不会被
// 任何写操作改动
type ValueGuard struct {
	root  Trie
	value interface{}
}

func (g ValueGuard) Value() interface{} {
	return g.value
}

// TrieStore 并发安全的字典树存储：读操作拿一份根快照后在快照上查找，
// 写操作串行执行，在根锁之外构造新版本后换根。
type TrieStore struct {
	rootLock  sync.Mutex
	writeLock sync.Mutex
	root      Trie
}

func NewTrieStore() *TrieStore {
	return &TrieStore{}
}

// Get 读取键对应的值
func (s *TrieStore) Get(key string) (ValueGuard, bool) {
	s.rootLock.Lock()
	root := s.root
	s.rootLock.Unlock()

	value, ok := root.Get(key)
	if !ok {
		return ValueGuard{}, false
	}
	return ValueGuard{root: root, value: value}, true
}

// Put 写入键值
func (s *TrieStore) Put(key string, value interface{}) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.rootLock.Lock()
	root := s.root
	s.rootLock.Unlock()

	root = root.Put(key, value)

	s.rootLock.Lock()
	s.root = root
	s.rootLock.Unlock()
}

// Remove 删除键
func (s *TrieStore) Remove(key string) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.rootLock.Lock()
	root := s.root
	s.rootLock.Unlock()

	root = root.Remove(key)

	s.rootLock.Lock()
	s.root = root
	s.rootLock.Unlock()
}
