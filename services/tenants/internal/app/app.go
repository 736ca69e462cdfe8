package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"apicourse/services/tenants/internal/model"
	"apicourse/services/tenants/internal/store"
)

var (
	ErrOrgNameRequired = errors.New("organization name is required")
	ErrOrgNameTaken    = errors.New("organization name already exists")
	ErrOrgSlugTaken    = errors.New("organization slug already exists")
	ErrOrgInvalidPlan  = errors.New("plan must be free, pro or enterprise")
	ErrOrgNotFound     = errors.New("organization not found")
	ErrOrgHasUsers     = errors.New("organization still has active users")

	ErrUserInvalidUsername = errors.New("username must be 3 to 80 characters")
	ErrUserInvalidEmail    = errors.New("email is invalid")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrUserEmailTaken      = errors.New("email already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserNotDeleted      = errors.New("user is not deleted")
	ErrPlanLimitReached    = errors.New("organization plan user limit reached")

	ErrPostTitleRequired = errors.New("post title is required")
	ErrPostInvalidStatus = errors.New("status must be draft, published or archived")
	ErrPostNotFound      = errors.New("post not found")
	ErrPostNotDraft      = errors.New("only draft posts can be published")
)

// Mutation actions recorded in the audit trail.
const (
	actionCreate  = "create"
	actionUpdate  = "update"
	actionDelete  = "delete"
	actionRestore = "restore"
)

// App implements tenant operations with audit logging on every mutation.
type App struct {
	store store.Store
}

// New wires the application to its store.
func New(s store.Store) *App {
	return &App{store: s}
}

// CreateOrganization registers a tenant. The slug derives from the name.
func (a *App) CreateOrganization(name, rawPlan, actorIP string) (model.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Organization{}, ErrOrgNameRequired
	}
	plan, ok := model.ParsePlan(rawPlan)
	if !ok {
		return model.Organization{}, ErrOrgInvalidPlan
	}
	if taken, err := a.store.HasOrganizationName(name); err != nil {
		return model.Organization{}, fmt.Errorf("check org name: %w", err)
	} else if taken {
		return model.Organization{}, ErrOrgNameTaken
	}
	slug := slugify(name)
	if taken, err := a.store.HasOrganizationSlug(slug); err != nil {
		return model.Organization{}, fmt.Errorf("check org slug: %w", err)
	} else if taken {
		return model.Organization{}, ErrOrgSlugTaken
	}
	now := time.Now().UTC()
	org := model.Organization{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		Plan:      plan,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateOrganization(org); err != nil {
		return model.Organization{}, fmt.Errorf("create organization: %w", err)
	}
	a.audit("", actionCreate, "organizations", org.ID, nil, org, actorIP)
	return org, nil
}

// GetOrganization returns a live organization.
func (a *App) GetOrganization(id string) (model.Organization, error) {
	org, ok, err := a.store.GetOrganization(id)
	if err != nil {
		return model.Organization{}, fmt.Errorf("get organization: %w", err)
	}
	if !ok {
		return model.Organization{}, ErrOrgNotFound
	}
	return org, nil
}

// ListOrganizations returns live organizations.
func (a *App) ListOrganizations() ([]model.Organization, error) {
	return a.store.ListOrganizations()
}

// DeleteOrganization soft-deletes a tenant with no active users left.
func (a *App) DeleteOrganization(id, actorIP string) error {
	org, err := a.GetOrganization(id)
	if err != nil {
		return err
	}
	active, err := a.store.CountActiveUsers(id)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if active > 0 {
		return ErrOrgHasUsers
	}
	if err := a.store.SoftDeleteOrganization(id); err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	a.audit("", actionDelete, "organizations", id, org, nil, actorIP)
	return nil
}

// CreateUser adds a user to an organization, enforcing the plan limit.
func (a *App) CreateUser(username, email, fullName, orgID, actorIP string) (model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if len(username) < 3 || len(username) > 80 {
		return model.User{}, ErrUserInvalidUsername
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, ErrUserInvalidEmail
	}
	org, err := a.GetOrganization(orgID)
	if err != nil {
		return model.User{}, err
	}
	if taken, err := a.store.HasUsername(username); err != nil {
		return model.User{}, fmt.Errorf("check username: %w", err)
	} else if taken {
		return model.User{}, ErrUsernameTaken
	}
	if taken, err := a.store.HasUserEmail(email); err != nil {
		return model.User{}, fmt.Errorf("check email: %w", err)
	} else if taken {
		return model.User{}, ErrUserEmailTaken
	}
	if limit := org.Plan.UserLimit(); limit > 0 {
		active, err := a.store.CountActiveUsers(orgID)
		if err != nil {
			return model.User{}, fmt.Errorf("count users: %w", err)
		}
		if active >= limit {
			return model.User{}, ErrPlanLimitReached
		}
	}
	now := time.Now().UTC()
	user := model.User{
		ID:             uuid.NewString(),
		Username:       username,
		Email:          email,
		FullName:       strings.TrimSpace(fullName),
		IsActive:       true,
		OrganizationID: orgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.CreateUser(user); err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	a.audit(user.ID, actionCreate, "users", user.ID, nil, user, actorIP)
	return user, nil
}

// GetUser returns a live user.
func (a *App) GetUser(id string) (model.User, error) {
	user, ok, err := a.store.GetUser(id)
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns live users, optionally scoped to one organization.
func (a *App) ListUsers(orgID string) ([]model.User, error) {
	return a.store.ListUsers(orgID)
}

// UserPatch carries a partial user update; nil fields stay untouched.
type UserPatch struct {
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
	IsActive *bool   `json:"isActive"`
}

// UpdateUser applies a partial update and records before/after snapshots.
func (a *App) UpdateUser(id string, patch UserPatch, actorIP string) (model.User, error) {
	current, err := a.GetUser(id)
	if err != nil {
		return model.User{}, err
	}
	old := current
	if patch.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*patch.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return model.User{}, ErrUserInvalidEmail
		}
		if email != current.Email {
			if taken, err := a.store.HasUserEmail(email); err != nil {
				return model.User{}, fmt.Errorf("check email: %w", err)
			} else if taken {
				return model.User{}, ErrUserEmailTaken
			}
			current.Email = email
		}
	}
	if patch.FullName != nil {
		current.FullName = strings.TrimSpace(*patch.FullName)
	}
	if patch.IsActive != nil {
		current.IsActive = *patch.IsActive
	}
	current.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(current); err != nil {
		return model.User{}, fmt.Errorf("update user: %w", err)
	}
	a.audit(id, actionUpdate, "users", id, old, current, actorIP)
	return current, nil
}

// DeleteUser soft-deletes a user.
func (a *App) DeleteUser(id, actorIP string) error {
	user, err := a.GetUser(id)
	if err != nil {
		return err
	}
	if err := a.store.SoftDeleteUser(id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	a.audit(id, actionDelete, "users", id, user, nil, actorIP)
	return nil
}

// RestoreUser brings a soft-deleted user back.
func (a *App) RestoreUser(id, actorIP string) (model.User, error) {
	deleted, ok, err := a.store.GetDeletedUser(id)
	if err != nil {
		return model.User{}, fmt.Errorf("get deleted user: %w", err)
	}
	if !ok {
		// Distinguish a live user from a missing one for the caller.
		if _, live, err := a.store.GetUser(id); err == nil && live {
			return model.User{}, ErrUserNotDeleted
		}
		return model.User{}, ErrUserNotFound
	}
	if err := a.store.RestoreUser(id); err != nil {
		return model.User{}, fmt.Errorf("restore user: %w", err)
	}
	restored, err := a.GetUser(id)
	if err != nil {
		return model.User{}, err
	}
	a.audit(id, actionRestore, "users", id, deleted, restored, actorIP)
	return restored, nil
}

// CreatePost stores a post owned by a live user.
func (a *App) CreatePost(userID, title, content, rawStatus, actorIP string) (model.Post, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Post{}, ErrPostTitleRequired
	}
	status, ok := model.ParsePostStatus(rawStatus)
	if !ok {
		return model.Post{}, ErrPostInvalidStatus
	}
	user, err := a.GetUser(userID)
	if err != nil {
		return model.Post{}, err
	}
	now := time.Now().UTC()
	post := model.Post{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Title:          title,
		Content:        content,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.CreatePost(post); err != nil {
		return model.Post{}, fmt.Errorf("create post: %w", err)
	}
	a.audit(user.ID, actionCreate, "posts", post.ID, nil, post, actorIP)
	return post, nil
}

// GetPost returns a live post.
func (a *App) GetPost(id string) (model.Post, error) {
	post, ok, err := a.store.GetPost(id)
	if err != nil {
		return model.Post{}, fmt.Errorf("get post: %w", err)
	}
	if !ok {
		return model.Post{}, ErrPostNotFound
	}
	return post, nil
}

// ListPosts returns live posts matching the filter, newest first.
func (a *App) ListPosts(filter store.PostFilter) ([]model.Post, error) {
	return a.store.ListPosts(filter)
}

// PostPatch carries a partial post update.
type PostPatch struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Status  *string `json:"status"`
}

// UpdatePost applies a partial update with an audit snapshot.
func (a *App) UpdatePost(id string, patch PostPatch, actorIP string) (model.Post, error) {
	current, err := a.GetPost(id)
	if err != nil {
		return model.Post{}, err
	}
	old := current
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return model.Post{}, ErrPostTitleRequired
		}
		current.Title = title
	}
	if patch.Content != nil {
		current.Content = *patch.Content
	}
	if patch.Status != nil {
		status, ok := model.ParsePostStatus(*patch.Status)
		if !ok {
			return model.Post{}, ErrPostInvalidStatus
		}
		current.Status = status
	}
	current.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdatePost(current); err != nil {
		return model.Post{}, fmt.Errorf("update post: %w", err)
	}
	a.audit(current.UserID, actionUpdate, "posts", id, old, current, actorIP)
	return current, nil
}

// DeletePost soft-deletes a post.
func (a *App) DeletePost(id, actorIP string) error {
	post, err := a.GetPost(id)
	if err != nil {
		return err
	}
	if err := a.store.SoftDeletePost(id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	a.audit(post.UserID, actionDelete, "posts", id, post, nil, actorIP)
	return nil
}

// PublishPost moves a draft to published. Any other transition conflicts.
func (a *App) PublishPost(id, actorIP string) (model.Post, error) {
	current, err := a.GetPost(id)
	if err != nil {
		return model.Post{}, err
	}
	if current.Status != model.PostDraft {
		return model.Post{}, ErrPostNotDraft
	}
	old := current
	current.Status = model.PostPublished
	current.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdatePost(current); err != nil {
		return model.Post{}, fmt.Errorf("publish post: %w", err)
	}
	a.audit(current.UserID, actionUpdate, "posts", id, old, current, actorIP)
	return current, nil
}

// ListAudit returns recent audit entries, newest first.
func (a *App) ListAudit(filter store.AuditFilter) ([]model.AuditLog, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 200
	}
	return a.store.ListAudit(filter)
}

// audit appends a trail entry. Failures are logged, never surfaced; a broken
// audit pipeline must not fail the mutation it describes.
func (a *App) audit(userID, action, table, recordID string, oldValue, newValue any, actorIP string) {
	entry := model.AuditLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		IPAddress: actorIP,
		CreatedAt: time.Now().UTC(),
	}
	if oldValue != nil {
		entry.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		entry.NewValues, _ = json.Marshal(newValue)
	}
	if err := a.store.AppendAudit(entry); err != nil {
		slog.Error("audit append failed", "table", table, "action", action, "err", err)
	}
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
