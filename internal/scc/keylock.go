package scc

import (
	"slices"
	"sync"
)

// fileLocks hands out one mutex per file path so a file is never inside two
// executing commands at once.
type fileLocks struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{mutexes: make(map[string]*sync.Mutex)}
}

func (m *fileLocks) get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

// lockAll locks every distinct file in sorted order and returns the unlock
// function.
func (m *fileLocks) lockAll(files []string) func() {
	keys := slices.Clone(files)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		mu := m.get(k)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
