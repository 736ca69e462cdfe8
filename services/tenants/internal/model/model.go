package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Plan controls how many active users an organization may hold.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan normalizes a plan string; empty defaults to free.
func ParsePlan(raw string) (Plan, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "free":
		return PlanFree, true
	case "pro":
		return PlanPro, true
	case "enterprise":
		return PlanEnterprise, true
	default:
		return "", false
	}
}

// UserLimit returns the active-user cap for the plan; 0 means unlimited.
func (p Plan) UserLimit() int {
	switch p {
	case PlanFree:
		return 5
	case PlanPro:
		return 50
	default:
		return 0
	}
}

// PostStatus is the post lifecycle state.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
	PostArchived  PostStatus = "archived"
)

// ParsePostStatus normalizes a status string; empty defaults to draft.
func ParsePostStatus(raw string) (PostStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "draft":
		return PostDraft, true
	case "published":
		return PostPublished, true
	case "archived":
		return PostArchived, true
	default:
		return "", false
	}
}

// Organization is a tenant.
type Organization struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	Plan      Plan       `json:"plan"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// User belongs to exactly one organization.
type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	FullName       string     `json:"fullName,omitempty"`
	IsActive       bool       `json:"isActive"`
	OrganizationID string     `json:"organizationId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// Post is authored by a user within an organization.
type Post struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Status         PostStatus `json:"status"`
	ViewCount      int        `json:"viewCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// AuditLog records one mutation with before/after snapshots.
type AuditLog struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Action    string          `json:"action"`
	TableName string          `json:"tableName"`
	RecordID  string          `json:"recordId"`
	OldValues json.RawMessage `json:"oldValues,omitempty"`
	NewValues json.RawMessage `json:"newValues,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
