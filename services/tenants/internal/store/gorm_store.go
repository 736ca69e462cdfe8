package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"apicourse/services/tenants/internal/model"
)

const migrateLockID int64 = 52105210

// OrganizationModel is the organizations table. Unique indexes cover live
// rows only so names and slugs free up after a soft delete.
type OrganizationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:120;index:idx_organizations_name,unique,where:deleted_at IS NULL"`
	Slug      string `gorm:"size:140;index:idx_organizations_slug,unique,where:deleted_at IS NULL"`
	Plan      string `gorm:"size:20"`
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// UserModel is the users table.
type UserModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Username       string `gorm:"size:80;index:idx_users_username,unique,where:deleted_at IS NULL"`
	Email          string `gorm:"size:254;index:idx_users_email,unique,where:deleted_at IS NULL"`
	FullName       string `gorm:"size:120"`
	IsActive       bool
	OrganizationID string `gorm:"size:64;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// PostModel is the posts table.
type PostModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"size:64;index"`
	OrganizationID string `gorm:"size:64;index"`
	Title          string `gorm:"size:200"`
	Content        string `gorm:"type:text"`
	Status         string `gorm:"size:20;index"`
	ViewCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// AuditLogModel is the append-only audit table.
type AuditLogModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index"`
	Action    string `gorm:"size:20;index"`
	TableName string `gorm:"size:60;index"`
	RecordID  string `gorm:"size:64"`
	OldValues datatypes.JSON
	NewValues datatypes.JSON
	IPAddress string `gorm:"size:45"`
	CreatedAt time.Time
}

// GormStore implements Store on GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&OrganizationModel{}, &UserModel{}, &PostModel{}, &AuditLogModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for readiness probes.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormStore) CreateOrganization(o model.Organization) error {
	m := orgToModel(o)
	return s.db.Create(&m).Error
}

func (s *GormStore) GetOrganization(id string) (model.Organization, bool, error) {
	var m OrganizationModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.Organization{}, false, nil
		}
		return model.Organization{}, false, err
	}
	return orgFromModel(m), true, nil
}

func (s *GormStore) ListOrganizations() ([]model.Organization, error) {
	var models []OrganizationModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.Organization, 0, len(models))
	for _, m := range models {
		out = append(out, orgFromModel(m))
	}
	return out, nil
}

func (s *GormStore) HasOrganizationName(name string) (bool, error) {
	return s.exists(&OrganizationModel{}, "name = ?", name)
}

func (s *GormStore) HasOrganizationSlug(slug string) (bool, error) {
	return s.exists(&OrganizationModel{}, "slug = ?", slug)
}

func (s *GormStore) SoftDeleteOrganization(id string) error {
	return s.db.Delete(&OrganizationModel{}, "id = ?", id).Error
}

func (s *GormStore) CountActiveUsers(orgID string) (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) CreateUser(u model.User) error {
	m := userToModel(u)
	return s.db.Create(&m).Error
}

func (s *GormStore) GetUser(id string) (model.User, bool, error) {
	var m UserModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.User{}, false, nil
		}
		return model.User{}, false, err
	}
	return userFromModel(m), true, nil
}

func (s *GormStore) GetDeletedUser(id string) (model.User, bool, error) {
	var m UserModel
	if err := s.db.Unscoped().
		Where("id = ? AND deleted_at IS NOT NULL", id).
		First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.User{}, false, nil
		}
		return model.User{}, false, err
	}
	return userFromModel(m), true, nil
}

func (s *GormStore) ListUsers(orgID string) ([]model.User, error) {
	tx := s.db.Order("created_at ASC")
	if orgID != "" {
		tx = tx.Where("organization_id = ?", orgID)
	}
	var models []UserModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out, nil
}

func (s *GormStore) HasUsername(username string) (bool, error) {
	return s.exists(&UserModel{}, "username = ?", username)
}

func (s *GormStore) HasUserEmail(email string) (bool, error) {
	return s.exists(&UserModel{}, "email = ?", email)
}

func (s *GormStore) UpdateUser(u model.User) error {
	return s.db.Model(&UserModel{}).Where("id = ?", u.ID).Updates(map[string]any{
		"email":      u.Email,
		"full_name":  u.FullName,
		"is_active":  u.IsActive,
		"updated_at": u.UpdatedAt,
	}).Error
}

func (s *GormStore) SoftDeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

func (s *GormStore) RestoreUser(id string) error {
	return s.db.Unscoped().Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"deleted_at": nil, "updated_at": time.Now().UTC()}).Error
}

func (s *GormStore) CreatePost(p model.Post) error {
	m := postToModel(p)
	return s.db.Create(&m).Error
}

func (s *GormStore) GetPost(id string) (model.Post, bool, error) {
	var m PostModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.Post{}, false, nil
		}
		return model.Post{}, false, err
	}
	return postFromModel(m), true, nil
}

func (s *GormStore) ListPosts(filter PostFilter) ([]model.Post, error) {
	tx := s.db.Order("created_at DESC")
	if filter.OrganizationID != "" {
		tx = tx.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	var models []PostModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.Post, 0, len(models))
	for _, m := range models {
		out = append(out, postFromModel(m))
	}
	return out, nil
}

func (s *GormStore) UpdatePost(p model.Post) error {
	return s.db.Model(&PostModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"title":      p.Title,
		"content":    p.Content,
		"status":     string(p.Status),
		"view_count": p.ViewCount,
		"updated_at": p.UpdatedAt,
	}).Error
}

func (s *GormStore) SoftDeletePost(id string) error {
	return s.db.Delete(&PostModel{}, "id = ?", id).Error
}

func (s *GormStore) AppendAudit(entry model.AuditLog) error {
	m := AuditLogModel{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Action:    entry.Action,
		TableName: entry.TableName,
		RecordID:  entry.RecordID,
		OldValues: datatypes.JSON(entry.OldValues),
		NewValues: datatypes.JSON(entry.NewValues),
		IPAddress: entry.IPAddress,
		CreatedAt: entry.CreatedAt,
	}
	return s.db.Create(&m).Error
}

func (s *GormStore) ListAudit(filter AuditFilter) ([]model.AuditLog, error) {
	tx := s.db.Order("created_at DESC")
	if filter.TableName != "" {
		tx = tx.Where("table_name = ?", filter.TableName)
	}
	if filter.Action != "" {
		tx = tx.Where("action = ?", filter.Action)
	}
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var models []AuditLogModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.AuditLog, 0, len(models))
	for _, m := range models {
		out = append(out, model.AuditLog{
			ID:        m.ID,
			UserID:    m.UserID,
			Action:    m.Action,
			TableName: m.TableName,
			RecordID:  m.RecordID,
			OldValues: []byte(m.OldValues),
			NewValues: []byte(m.NewValues),
			IPAddress: m.IPAddress,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) exists(target any, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.Model(target).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func orgToModel(o model.Organization) OrganizationModel {
	return OrganizationModel{
		ID:        o.ID,
		Name:      o.Name,
		Slug:      o.Slug,
		Plan:      string(o.Plan),
		IsActive:  o.IsActive,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func orgFromModel(m OrganizationModel) model.Organization {
	o := model.Organization{
		ID:        m.ID,
		Name:      m.Name,
		Slug:      m.Slug,
		Plan:      model.Plan(m.Plan),
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		o.DeletedAt = &t
	}
	return o
}

func userToModel(u model.User) UserModel {
	return UserModel{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		FullName:       u.FullName,
		IsActive:       u.IsActive,
		OrganizationID: u.OrganizationID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func userFromModel(m UserModel) model.User {
	u := model.User{
		ID:             m.ID,
		Username:       m.Username,
		Email:          m.Email,
		FullName:       m.FullName,
		IsActive:       m.IsActive,
		OrganizationID: m.OrganizationID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		u.DeletedAt = &t
	}
	return u
}

func postToModel(p model.Post) PostModel {
	return PostModel{
		ID:             p.ID,
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		Title:          p.Title,
		Content:        p.Content,
		Status:         string(p.Status),
		ViewCount:      p.ViewCount,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func postFromModel(m PostModel) model.Post {
	p := model.Post{
		ID:             m.ID,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		Title:          m.Title,
		Content:        m.Content,
		Status:         model.PostStatus(m.Status),
		ViewCount:      m.ViewCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		p.DeletedAt = &t
	}
	return p
}
