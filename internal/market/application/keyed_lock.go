package application

import (
	"slices"
	"sync"
)

// PositionKey 持仓串行化的粒度
type PositionKey struct {
	UserID   int64
	MarketID int64
}

func comparePositionKey(a, b PositionKey) int {
	if a.MarketID != b.MarketID {
		if a.MarketID < b.MarketID {
			return -1
		}
		return 1
	}
	switch {
	case a.UserID < b.UserID:
		return -1
	case a.UserID > b.UserID:
		return 1
	}
	return 0
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocker 按 (user, market) 加锁，多键按固定顺序获取以避免死锁；
// 约定先取持仓锁再开事务
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[PositionKey]*keyedEntry
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[PositionKey]*keyedEntry)}
}

// Lock 获取全部键的锁，返回的函数释放它们
func (k *KeyedLocker) Lock(keys ...PositionKey) (unlock func()) {
	keys = slices.Clone(keys)
	slices.SortFunc(keys, comparePositionKey)
	keys = slices.Compact(keys)

	entries := make([]*keyedEntry, len(keys))
	k.mu.Lock()
	for i, key := range keys {
		e, ok := k.locks[key]
		if !ok {
			e = &keyedEntry{}
			k.locks[key] = e
		}
		e.refs++
		entries[i] = e
	}
	k.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}
	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, key := range keys {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}
