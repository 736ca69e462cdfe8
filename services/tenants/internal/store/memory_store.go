package store

import (
	"sort"
	"sync"
	"time"

	"apicourse/services/tenants/internal/model"
)

// MemoryStore implements Store in-process. Used in tests and local runs
// without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	orgs      map[string]model.Organization
	orgOrder  []string
	users     map[string]model.User
	userOrder []string
	posts     map[string]model.Post
	postOrder []string
	audit     []model.AuditLog
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:  make(map[string]model.Organization),
		users: make(map[string]model.User),
		posts: make(map[string]model.Post),
	}
}

func (m *MemoryStore) CreateOrganization(o model.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
	m.orgOrder = append(m.orgOrder, o.ID)
	return nil
}

func (m *MemoryStore) GetOrganization(id string) (model.Organization, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok || o.DeletedAt != nil {
		return model.Organization{}, false, nil
	}
	return o, true, nil
}

func (m *MemoryStore) ListOrganizations() ([]model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Organization, 0, len(m.orgOrder))
	for _, id := range m.orgOrder {
		if o, ok := m.orgs[id]; ok && o.DeletedAt == nil {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasOrganizationName(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orgs {
		if o.DeletedAt == nil && o.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) HasOrganizationSlug(slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orgs {
		if o.DeletedAt == nil && o.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SoftDeleteOrganization(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orgs[id]; ok && o.DeletedAt == nil {
		now := time.Now().UTC()
		o.DeletedAt = &now
		m.orgs[id] = o
	}
	return nil
}

func (m *MemoryStore) CountActiveUsers(orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.users {
		if u.DeletedAt == nil && u.IsActive && u.OrganizationID == orgID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateUser(u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.userOrder = append(m.userOrder, u.ID)
	return nil
}

func (m *MemoryStore) GetUser(id string) (model.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return model.User{}, false, nil
	}
	return u, true, nil
}

func (m *MemoryStore) GetDeletedUser(id string) (model.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt == nil {
		return model.User{}, false, nil
	}
	return u, true, nil
}

func (m *MemoryStore) ListUsers(orgID string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		u, ok := m.users[id]
		if !ok || u.DeletedAt != nil {
			continue
		}
		if orgID != "" && u.OrganizationID != orgID {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.DeletedAt == nil && u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.DeletedAt == nil && u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateUser(u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.users[u.ID]; ok && current.DeletedAt == nil {
		m.users[u.ID] = u
	}
	return nil
}

func (m *MemoryStore) SoftDeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.DeletedAt == nil {
		now := time.Now().UTC()
		u.DeletedAt = &now
		m.users[id] = u
	}
	return nil
}

func (m *MemoryStore) RestoreUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.DeletedAt = nil
		u.UpdatedAt = time.Now().UTC()
		m.users[id] = u
	}
	return nil
}

func (m *MemoryStore) CreatePost(p model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = p
	m.postOrder = append(m.postOrder, p.ID)
	return nil
}

func (m *MemoryStore) GetPost(id string) (model.Post, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok || p.DeletedAt != nil {
		return model.Post{}, false, nil
	}
	return p, true, nil
}

func (m *MemoryStore) ListPosts(filter PostFilter) ([]model.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Post, 0, len(m.postOrder))
	for _, id := range m.postOrder {
		p, ok := m.posts[id]
		if !ok || p.DeletedAt != nil {
			continue
		}
		if filter.OrganizationID != "" && p.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdatePost(p model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.posts[p.ID]; ok && current.DeletedAt == nil {
		m.posts[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) SoftDeletePost(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[id]; ok && p.DeletedAt == nil {
		now := time.Now().UTC()
		p.DeletedAt = &now
		m.posts[id] = p
	}
	return nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(filter AuditFilter) ([]model.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AuditLog, 0, len(m.audit))
	for i := len(m.audit) - 1; i >= 0; i-- {
		entry := m.audit[i]
		if filter.TableName != "" && entry.TableName != filter.TableName {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
