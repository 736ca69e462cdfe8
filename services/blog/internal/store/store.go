package store

import (
	"sync"
	"time"
)

// Author writes articles.
type Author struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Article is a blog post.
type Article struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Published bool      `json:"published"`
	Views     int       `json:"views"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment is attached to one article.
type Comment struct {
	ID          string    `json:"id"`
	ArticleID   string    `json:"articleId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MemoryStore keeps the blog dataset in-process. This chapter is about REST
// conventions; persistence arrives in the database chapter.
type MemoryStore struct {
	mu           sync.RWMutex
	authors      map[string]Author
	authorOrder  []string
	articles     map[string]Article
	articleOrder []string
	comments     map[string][]Comment // articleID -> comments
	slugs        map[string]string    // slug -> articleID
	emails       map[string]string    // author email -> authorID
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authors:  make(map[string]Author),
		articles: make(map[string]Article),
		comments: make(map[string][]Comment),
		slugs:    make(map[string]string),
		emails:   make(map[string]string),
	}
}

// SaveAuthor stores an author and indexes the email.
func (m *MemoryStore) SaveAuthor(a Author) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.authors[a.ID]; !exists {
		m.authorOrder = append(m.authorOrder, a.ID)
	}
	m.authors[a.ID] = a
	m.emails[a.Email] = a.ID
}

// GetAuthor returns an author by ID.
func (m *MemoryStore) GetAuthor(id string) (Author, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.authors[id]
	return a, ok
}

// HasAuthorEmail checks email uniqueness.
func (m *MemoryStore) HasAuthorEmail(email string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok
}

// ListAuthors returns authors in insertion order.
func (m *MemoryStore) ListAuthors() []Author {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Author, 0, len(m.authorOrder))
	for _, id := range m.authorOrder {
		if a, ok := m.authors[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// DeleteAuthor removes an author. The caller checks for owned articles first.
func (m *MemoryStore) DeleteAuthor(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.authors[id]; ok {
		delete(m.emails, a.Email)
	}
	delete(m.authors, id)
	m.authorOrder = remove(m.authorOrder, id)
}

// CountArticlesByAuthor returns how many articles the author owns.
func (m *MemoryStore) CountArticlesByAuthor(authorID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, id := range m.articleOrder {
		if article, ok := m.articles[id]; ok && article.AuthorID == authorID {
			count++
		}
	}
	return count
}

// SaveArticle stores an article and indexes the slug.
func (m *MemoryStore) SaveArticle(a Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, exists := m.articles[a.ID]; exists {
		if prev.Slug != a.Slug {
			delete(m.slugs, prev.Slug)
		}
	} else {
		m.articleOrder = append(m.articleOrder, a.ID)
	}
	m.articles[a.ID] = a
	m.slugs[a.Slug] = a.ID
}

// GetArticle returns an article by ID.
func (m *MemoryStore) GetArticle(id string) (Article, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.articles[id]
	return a, ok
}

// HasSlug checks slug uniqueness.
func (m *MemoryStore) HasSlug(slug string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slugs[slug]
	return ok
}

// IncrementViews bumps the article view counter.
func (m *MemoryStore) IncrementViews(id string) (Article, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return Article{}, false
	}
	a.Views++
	m.articles[id] = a
	return a, true
}

// ListArticles returns articles in insertion order.
func (m *MemoryStore) ListArticles() []Article {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Article, 0, len(m.articleOrder))
	for _, id := range m.articleOrder {
		if a, ok := m.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// DeleteArticle removes an article and its comments.
func (m *MemoryStore) DeleteArticle(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.articles[id]; ok {
		delete(m.slugs, a.Slug)
	}
	delete(m.articles, id)
	delete(m.comments, id)
	m.articleOrder = remove(m.articleOrder, id)
}

// AppendComment stores a comment under its article.
func (m *MemoryStore) AppendComment(c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ArticleID] = append(m.comments[c.ArticleID], c)
}

// ListComments returns an article's comments oldest first.
func (m *MemoryStore) ListComments(articleID string) []Comment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Comment, len(m.comments[articleID]))
	copy(out, m.comments[articleID])
	return out
}

// DeleteComment removes one comment. Returns false when absent.
func (m *MemoryStore) DeleteComment(articleID, commentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.comments[articleID]
	for i, c := range list {
		if c.ID == commentID {
			m.comments[articleID] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// CountComments returns the number of comments on an article.
func (m *MemoryStore) CountComments(articleID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.comments[articleID])
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
