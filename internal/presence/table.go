// Package presence tracks which connections are currently joined to the room.
package presence

import (
	"sync"

	"github.com/tropichat/relay/internal/models"
)

// Table maps connection ids to joined users. Listing preserves insertion order;
// a rejoin keeps the connection's original position.
type Table struct {
	mu    sync.RWMutex
	order []string
	users map[string]models.JoinedUser
}

func NewTable() *Table {
	return &Table{users: make(map[string]models.JoinedUser)}
}

func (t *Table) Insert(connID string, user models.JoinedUser) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user.ConnID = connID
	if _, ok := t.users[connID]; !ok {
		t.order = append(t.order, connID)
	}
	t.users[connID] = user
}

// Remove deletes the entry and reports whether one existed.
func (t *Table) Remove(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.users[connID]; !ok {
		return false
	}
	delete(t.users, connID)
	for i, id := range t.order {
		if id == connID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *Table) Get(connID string) (models.JoinedUser, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[connID]
	return u, ok
}

// List returns a snapshot of all joined users.
func (t *Table) List() []models.JoinedUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.JoinedUser, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.users[id])
	}
	return out
}

// FindByAddress returns the connection ids bound to a wallet address.
func (t *Table) FindByAddress(address string) []string {
	key := models.NormalizeAddress(address)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for _, id := range t.order {
		if t.users[id].AddressKey() == key {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}
