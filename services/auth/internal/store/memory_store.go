package store

import (
	"strings"
	"sync"

	"apicourse/pkg/domain"
)

// MemoryStore implements Store in-process for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	userOrder []string
	posts     map[string]Post
	postOrder []string
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		posts: make(map[string]Post),
	}
}

func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.userOrder = append(m.userOrder, u.ID)
	return nil
}

func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) HasUsername(username string) (bool, error) {
	_, ok, err := m.GetUserByUsername(username)
	return ok, err
}

func (m *MemoryStore) HasEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		m.users[u.ID] = u
	}
	return nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	m.userOrder = remove(m.userOrder, id)
	return nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) CreatePost(p Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = p
	m.postOrder = append(m.postOrder, p.ID)
	return nil
}

func (m *MemoryStore) GetPost(id string) (Post, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPosts() ([]Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Post, 0, len(m.postOrder))
	for _, id := range m.postOrder {
		if p, ok := m.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdatePost(p Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[p.ID]; ok {
		m.posts[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) DeletePost(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	m.postOrder = remove(m.postOrder, id)
	return nil
}

func remove(items []string, id string) []string {
	filtered := items[:0]
	for _, item := range items {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
