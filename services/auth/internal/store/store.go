package store

import (
	"time"

	"apicourse/pkg/domain"
)

// Post is a minimal owned resource used to demonstrate access control.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists accounts and their posts.
type Store interface {
	CreateUser(u domain.User) error
	GetUser(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	HasUsername(username string) (bool, error)
	HasEmail(email string) (bool, error)
	UpdateUser(u domain.User) error
	ListUsers() ([]domain.User, error)
	DeleteUser(id string) error
	UserCount() (int, error)

	CreatePost(p Post) error
	GetPost(id string) (Post, bool, error)
	ListPosts() ([]Post, error)
	UpdatePost(p Post) error
	DeletePost(id string) error
}
