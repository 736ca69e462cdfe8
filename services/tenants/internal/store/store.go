package store

import (
	"apicourse/services/tenants/internal/model"
)

// PostFilter narrows post listings. Zero values match everything.
type PostFilter struct {
	OrganizationID string
	UserID         string
	Status         model.PostStatus
}

// AuditFilter narrows audit-log listings.
type AuditFilter struct {
	TableName string
	Action    string
	UserID    string
	Limit     int
}

// Store persists the tenant dataset. Reads return only live rows; soft-deleted
// rows are reachable through the dedicated deleted lookups.
type Store interface {
	CreateOrganization(o model.Organization) error
	GetOrganization(id string) (model.Organization, bool, error)
	ListOrganizations() ([]model.Organization, error)
	HasOrganizationName(name string) (bool, error)
	HasOrganizationSlug(slug string) (bool, error)
	SoftDeleteOrganization(id string) error
	CountActiveUsers(orgID string) (int, error)

	CreateUser(u model.User) error
	GetUser(id string) (model.User, bool, error)
	GetDeletedUser(id string) (model.User, bool, error)
	ListUsers(orgID string) ([]model.User, error)
	HasUsername(username string) (bool, error)
	HasUserEmail(email string) (bool, error)
	UpdateUser(u model.User) error
	SoftDeleteUser(id string) error
	RestoreUser(id string) error

	CreatePost(p model.Post) error
	GetPost(id string) (model.Post, bool, error)
	ListPosts(filter PostFilter) ([]model.Post, error)
	UpdatePost(p model.Post) error
	SoftDeletePost(id string) error

	AppendAudit(entry model.AuditLog) error
	ListAudit(filter AuditFilter) ([]model.AuditLog, error)
}
