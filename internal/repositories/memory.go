package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/tropichat/relay/internal/models"
)

// MemoryMessageStore keeps messages in process. Used for tests and
// STORAGE_DRIVER=memory.
type MemoryMessageStore struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []models.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (s *MemoryMessageStore) Append(_ context.Context, m *models.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	s.msgs = append(s.msgs, *m)
	return m.ID, nil
}

func (s *MemoryMessageStore) Recent(_ context.Context, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []models.Message{}, nil
	}
	start := len(s.msgs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, len(s.msgs)-start)
	copy(out, s.msgs[start:])
	return out, nil
}

type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]models.UserProfile
}

func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{users: make(map[string]models.UserProfile)}
}

func (d *MemoryUserDirectory) Upsert(_ context.Context, walletAddress string, f models.ProfileFields) (*models.UserProfile, error) {
	key := models.NormalizeAddress(walletAddress)
	seen := f.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[key]
	if !ok {
		u = models.UserProfile{WalletAddress: key, CreatedAt: seen}
	}
	u.Username = f.Username
	u.WalletType = f.WalletType
	u.Color = f.Color
	u.LastSeen = seen
	d.users[key] = u
	return &u, nil
}

func (d *MemoryUserDirectory) Find(_ context.Context, walletAddress string) (*models.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[models.NormalizeAddress(walletAddress)]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (d *MemoryUserDirectory) Touch(_ context.Context, walletAddress string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := models.NormalizeAddress(walletAddress)
	u, ok := d.users[key]
	if !ok {
		return nil
	}
	u.LastSeen = at
	d.users[key] = u
	return nil
}
