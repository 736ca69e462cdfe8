package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"apicourse/pkg/auth"
	"apicourse/pkg/domain"
	"apicourse/pkg/session"
	"apicourse/services/auth/internal/store"
)

var (
	ErrInvalidUsername    = errors.New("username must be 3 to 80 characters")
	ErrReservedUsername   = errors.New("username is reserved")
	ErrInvalidEmail       = errors.New("email is invalid")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrUserNotFound       = errors.New("user not found")
	ErrPostNotFound       = errors.New("post not found")
	ErrForbidden          = errors.New("not allowed")
	ErrSelfChange         = errors.New("cannot change own role or status")
	ErrInvalidRole        = errors.New("unknown role")
	ErrPostTitleRequired  = errors.New("post title is required")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

// failedLoginAlertThreshold triggers a warning log once an IP accumulates
// this many failures inside the counter window.
const failedLoginAlertThreshold = 10

// Usernames that collide with service accounts or routing cannot be claimed.
var reservedUsernames = map[string]struct{}{
	"admin": {}, "root": {}, "system": {}, "support": {}, "api": {}, "null": {},
}

// Limiter gates login attempts per client IP.
type Limiter interface {
	Allow(key string) bool
}

// FailureCounter tracks failed logins per key and returns the running count.
type FailureCounter interface {
	RecordFailure(key string) (int, error)
}

// TokenPair is returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Config wires the application dependencies.
type Config struct {
	Store      store.Store
	Tokens     *session.TokenStore
	Refresh    session.RefreshStore
	RefreshTTL time.Duration
	Limiter    Limiter
	Failures   FailureCounter
}

// App implements account, session and post operations.
type App struct {
	store      store.Store
	tokens     *session.TokenStore
	refresh    session.RefreshStore
	refreshTTL time.Duration
	limiter    Limiter
	failures   FailureCounter
}

// New builds the application core.
func New(cfg Config) *App {
	ttl := cfg.RefreshTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &App{
		store:      cfg.Store,
		tokens:     cfg.Tokens,
		refresh:    cfg.Refresh,
		refreshTTL: ttl,
		limiter:    cfg.Limiter,
		failures:   cfg.Failures,
	}
}

// Register creates an account. The very first account becomes admin.
func (a *App) Register(username, email, password, fullName string) (domain.User, TokenPair, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if len(username) < 3 || len(username) > 80 {
		return domain.User{}, TokenPair{}, ErrInvalidUsername
	}
	if _, reserved := reservedUsernames[strings.ToLower(username)]; reserved {
		return domain.User{}, TokenPair{}, ErrReservedUsername
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, TokenPair{}, ErrInvalidEmail
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, TokenPair{}, err
	}
	if taken, err := a.store.HasUsername(username); err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("check username: %w", err)
	} else if taken {
		return domain.User{}, TokenPair{}, ErrUsernameTaken
	}
	if taken, err := a.store.HasEmail(email); err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("check email: %w", err)
	} else if taken {
		return domain.User{}, TokenPair{}, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("count users: %w", err)
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("create user: %w", err)
	}
	pair, err := a.issuePair(user)
	if err != nil {
		return domain.User{}, TokenPair{}, err
	}
	slog.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, pair, nil
}

// Login authenticates by username and password. Failures are deliberately
// uniform so callers cannot probe which accounts exist.
func (a *App) Login(username, password, clientIP string) (domain.User, TokenPair, error) {
	if a.limiter != nil && clientIP != "" && !a.limiter.Allow("login:"+clientIP) {
		return domain.User{}, TokenPair{}, ErrRateLimited
	}
	user, ok, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		a.recordFailure(clientIP)
		return domain.User{}, TokenPair{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, TokenPair{}, ErrAccountDisabled
	}
	pair, err := a.issuePair(user)
	if err != nil {
		return domain.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token and issues a fresh pair.
func (a *App) Refresh(refreshToken string) (domain.User, TokenPair, error) {
	userID, newToken, err := a.refresh.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		return domain.User{}, TokenPair{}, err
	}
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !user.IsActive {
		_ = a.refresh.DeleteToken(newToken)
		return domain.User{}, TokenPair{}, ErrAccountDisabled
	}
	access, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return domain.User{}, TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	return user, TokenPair{
		AccessToken:  access,
		RefreshToken: newToken,
		ExpiresIn:    int(a.tokens.TTL().Seconds()),
	}, nil
}

// Logout blacklists the access token and discards the refresh token.
func (a *App) Logout(accessToken, refreshToken string) error {
	if err := a.tokens.Revoke(accessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken != "" {
		if err := a.refresh.DeleteToken(refreshToken); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
	}
	return nil
}

// VerifyAccess validates a bearer token and loads the account.
func (a *App) VerifyAccess(raw string) (domain.User, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUser(claims.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, session.ErrInvalidToken
	}
	if !user.IsActive {
		return domain.User{}, ErrAccountDisabled
	}
	return user, nil
}

// ProfilePatch carries a partial profile update.
type ProfilePatch struct {
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
}

// UpdateProfile edits the caller's own account.
func (a *App) UpdateProfile(userID string, patch ProfilePatch) (domain.User, error) {
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if patch.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*patch.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.User{}, ErrInvalidEmail
		}
		if email != user.Email {
			if taken, err := a.store.HasEmail(email); err != nil {
				return domain.User{}, fmt.Errorf("check email: %w", err)
			} else if taken {
				return domain.User{}, ErrEmailTaken
			}
			user.Email = email
		}
	}
	if patch.FullName != nil {
		user.FullName = strings.TrimSpace(*patch.FullName)
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// ChangePassword verifies the current password and stores a new hash.
func (a *App) ChangePassword(userID, current, next string) error {
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if !auth.CheckPassword(current, user.PasswordHash) {
		return ErrWrongPassword
	}
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	// Existing refresh tokens become worthless once the password changes.
	if err := a.refresh.RevokeUserTokens(userID); err != nil {
		slog.Error("revoke refresh tokens after password change", "user_id", userID, "err", err)
	}
	return nil
}

// ListUsers returns all accounts (admin only, enforced by the caller).
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// AdminPatch edits role and active flag on another account.
type AdminPatch struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// AdminUpdateUser applies role/status changes. Admins cannot demote or
// disable themselves.
func (a *App) AdminUpdateUser(actorID, targetID string, patch AdminPatch) (domain.User, error) {
	user, ok, err := a.store.GetUser(targetID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if actorID == targetID {
		if patch.Role != nil && *patch.Role != string(user.Role) {
			return domain.User{}, ErrSelfChange
		}
		if patch.IsActive != nil && !*patch.IsActive {
			return domain.User{}, ErrSelfChange
		}
	}
	if patch.Role != nil {
		role, ok := domain.ParseRole(*patch.Role)
		if !ok {
			return domain.User{}, fmt.Errorf("%w %q", ErrInvalidRole, *patch.Role)
		}
		user.Role = role
	}
	if patch.IsActive != nil {
		user.IsActive = *patch.IsActive
		if !user.IsActive {
			if err := a.refresh.RevokeUserTokens(targetID); err != nil {
				slog.Error("revoke refresh tokens for disabled user", "user_id", targetID, "err", err)
			}
		}
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// AdminDeleteUser removes an account and its posts.
func (a *App) AdminDeleteUser(actorID, targetID string) error {
	if actorID == targetID {
		return ErrSelfChange
	}
	if _, ok, err := a.store.GetUser(targetID); err != nil {
		return fmt.Errorf("lookup user: %w", err)
	} else if !ok {
		return ErrUserNotFound
	}
	if err := a.refresh.RevokeUserTokens(targetID); err != nil {
		slog.Error("revoke refresh tokens for deleted user", "user_id", targetID, "err", err)
	}
	return a.store.DeleteUser(targetID)
}

// CreatePost stores a post owned by the caller.
func (a *App) CreatePost(userID, title, content string) (store.Post, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Post{}, ErrPostTitleRequired
	}
	now := time.Now().UTC()
	post := store.Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreatePost(post); err != nil {
		return store.Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// GetPost returns a post by ID.
func (a *App) GetPost(id string) (store.Post, error) {
	post, ok, err := a.store.GetPost(id)
	if err != nil {
		return store.Post{}, fmt.Errorf("get post: %w", err)
	}
	if !ok {
		return store.Post{}, ErrPostNotFound
	}
	return post, nil
}

// ListPosts returns all posts, newest first.
func (a *App) ListPosts() ([]store.Post, error) {
	return a.store.ListPosts()
}

// UpdatePost edits a post. Only the owner or a moderator may edit.
func (a *App) UpdatePost(actor domain.User, postID string, title, content *string) (store.Post, error) {
	post, err := a.GetPost(postID)
	if err != nil {
		return store.Post{}, err
	}
	if post.UserID != actor.ID && !actor.CanModerate() {
		return store.Post{}, ErrForbidden
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return store.Post{}, ErrPostTitleRequired
		}
		post.Title = trimmed
	}
	if content != nil {
		post.Content = *content
	}
	post.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdatePost(post); err != nil {
		return store.Post{}, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

// DeletePost removes a post. Only the owner or a moderator may delete.
func (a *App) DeletePost(actor domain.User, postID string) error {
	post, err := a.GetPost(postID)
	if err != nil {
		return err
	}
	if post.UserID != actor.ID && !actor.CanModerate() {
		return ErrForbidden
	}
	return a.store.DeletePost(postID)
}

func (a *App) issuePair(user domain.User) (TokenPair, error) {
	access, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := a.refresh.NewToken(user.ID, a.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(a.tokens.TTL().Seconds()),
	}, nil
}

func (a *App) recordFailure(clientIP string) {
	if a.failures == nil || clientIP == "" {
		return
	}
	count, err := a.failures.RecordFailure("failed_login:" + clientIP)
	if err != nil {
		slog.Error("record login failure", "err", err)
		return
	}
	if count >= failedLoginAlertThreshold {
		slog.Warn("excessive failed logins", "ip", clientIP, "count", count)
	}
}
