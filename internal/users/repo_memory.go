package users

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests.
// It is not intended for production use.

type MemoryDirectory struct {
	mu      sync.Mutex
	users   map[string]User
	matches map[[2]string]bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[string]User),
		matches: make(map[[2]string]bool),
	}
}

func (d *MemoryDirectory) AddUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) AddMatch(a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches[pairKey(a, b)] = true
}

func (d *MemoryDirectory) User(ctx context.Context, id string) (User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	return u, ok, nil
}

func (d *MemoryDirectory) Matched(ctx context.Context, a, b string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matches[pairKey(a, b)], nil
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
