package store

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"apicourse/pkg/domain"
)

// AccountModel is the accounts table.
type AccountModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:80;uniqueIndex"`
	Email        string `gorm:"size:254;uniqueIndex"`
	FullName     string `gorm:"size:120"`
	PasswordHash string `gorm:"size:100"`
	Role         string `gorm:"size:20"`
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountPostModel is the posts table.
type AccountPostModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index"`
	Title     string `gorm:"size:200"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GormStore implements Store on GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
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
	if err := db.AutoMigrate(&AccountModel{}, &AccountPostModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for readiness probes.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) CreateUser(u domain.User) error {
	m := accountToModel(u)
	return s.db.Create(&m).Error
}

func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var m AccountModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return accountFromModel(m), true, nil
}

func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var m AccountModel
	if err := s.db.Where("LOWER(username) = LOWER(?)", username).First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return accountFromModel(m), true, nil
}

func (s *GormStore) HasUsername(username string) (bool, error) {
	return s.exists("LOWER(username) = LOWER(?)", username)
}

func (s *GormStore) HasEmail(email string) (bool, error) {
	return s.exists("LOWER(email) = LOWER(?)", email)
}

func (s *GormStore) UpdateUser(u domain.User) error {
	return s.db.Model(&AccountModel{}).Where("id = ?", u.ID).Updates(map[string]any{
		"email":         u.Email,
		"full_name":     u.FullName,
		"password_hash": u.PasswordHash,
		"role":          string(u.Role),
		"is_active":     u.IsActive,
		"updated_at":    u.UpdatedAt,
	}).Error
}

func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []AccountModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(models))
	for _, m := range models {
		out = append(out, accountFromModel(m))
	}
	return out, nil
}

func (s *GormStore) DeleteUser(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&AccountPostModel{}, "user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&AccountModel{}, "id = ?", id).Error
	})
}

func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) CreatePost(p Post) error {
	m := postToModel(p)
	return s.db.Create(&m).Error
}

func (s *GormStore) GetPost(id string) (Post, bool, error) {
	var m AccountPostModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Post{}, false, nil
		}
		return Post{}, false, err
	}
	return postFromModel(m), true, nil
}

func (s *GormStore) ListPosts() ([]Post, error) {
	var models []AccountPostModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Post, 0, len(models))
	for _, m := range models {
		out = append(out, postFromModel(m))
	}
	return out, nil
}

func (s *GormStore) UpdatePost(p Post) error {
	return s.db.Model(&AccountPostModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"title":      p.Title,
		"content":    p.Content,
		"updated_at": p.UpdatedAt,
	}).Error
}

func (s *GormStore) DeletePost(id string) error {
	return s.db.Delete(&AccountPostModel{}, "id = ?", id).Error
}

func (s *GormStore) exists(query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func accountToModel(u domain.User) AccountModel {
	return AccountModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		FullName:     m.FullName,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func postToModel(p Post) AccountPostModel {
	return AccountPostModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Title:     p.Title,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func postFromModel(m AccountPostModel) Post {
	return Post{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
