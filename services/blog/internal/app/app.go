package app

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"apicourse/services/blog/internal/store"
)

// Categories is the fixed set articles can belong to.
var Categories = []string{"Technology", "Science", "Business", "Health", "Sports"}

var (
	ErrAuthorNameRequired  = errors.New("name is required")
	ErrAuthorEmailInvalid  = errors.New("email is invalid")
	ErrAuthorEmailConflict = errors.New("email already registered")
	ErrAuthorNotFound      = errors.New("author not found")
	ErrAuthorHasArticles   = errors.New("author still has articles")

	ErrTitleLength      = errors.New("title must be between 5 and 200 characters")
	ErrContentTooShort  = errors.New("content must be at least 50 characters")
	ErrUnknownAuthor    = errors.New("authorId references no known author")
	ErrUnknownCategory  = errors.New("category is not in the allowed list")
	ErrArticleNotFound  = errors.New("article not found")
	ErrCommentTooShort  = errors.New("comment content must be at least 10 characters")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrCommenterMissing = errors.New("authorName and authorEmail are required")
)

// AuthorView decorates an author with derived fields.
type AuthorView struct {
	store.Author
	ArticleCount int `json:"articleCount"`
}

// ArticleView decorates an article for list/detail rendering.
type ArticleView struct {
	store.Article
	Excerpt      string        `json:"excerpt,omitempty"`
	CommentCount int           `json:"commentCount"`
	Author       *store.Author `json:"author,omitempty"`
}

// ArticleInput is the payload for creating or replacing an article.
type ArticleInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	AuthorID  string   `json:"authorId"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
}

// ArticlePatch carries a partial update; nil fields are untouched.
type ArticlePatch struct {
	Title     *string   `json:"title"`
	Content   *string   `json:"content"`
	Category  *string   `json:"category"`
	Tags      *[]string `json:"tags"`
	Published *bool     `json:"published"`
}

// ListOptions filters and orders article listings.
type ListOptions struct {
	AuthorID  string
	Category  string
	Tag       string
	Published *bool
	Sort      string // created_at, -created_at, views, -views, title
}

// Stats summarizes the article collection.
type Stats struct {
	TotalArticles  int            `json:"totalArticles"`
	TotalAuthors   int            `json:"totalAuthors"`
	TotalComments  int            `json:"totalComments"`
	TotalViews     int            `json:"totalViews"`
	Published      int            `json:"published"`
	Drafts         int            `json:"drafts"`
	ByCategory     map[string]int `json:"byCategory"`
	AvgViewsPerDoc float64        `json:"avgViews"`
}

// App implements blog operations over the memory store.
type App struct {
	store *store.MemoryStore
}

// New wires the application to its store.
func New(s *store.MemoryStore) *App {
	return &App{store: s}
}

// CreateAuthor validates input and registers an author.
func (a *App) CreateAuthor(name, email, bio string) (store.Author, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return store.Author{}, ErrAuthorNameRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.Author{}, ErrAuthorEmailInvalid
	}
	if a.store.HasAuthorEmail(email) {
		return store.Author{}, ErrAuthorEmailConflict
	}
	author := store.Author{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Bio:       strings.TrimSpace(bio),
		CreatedAt: time.Now().UTC(),
	}
	a.store.SaveAuthor(author)
	return author, nil
}

// GetAuthor returns an author with its article count.
func (a *App) GetAuthor(id string) (AuthorView, error) {
	author, ok := a.store.GetAuthor(id)
	if !ok {
		return AuthorView{}, ErrAuthorNotFound
	}
	return AuthorView{Author: author, ArticleCount: a.store.CountArticlesByAuthor(id)}, nil
}

// ListAuthors returns all authors with article counts.
func (a *App) ListAuthors() []AuthorView {
	authors := a.store.ListAuthors()
	out := make([]AuthorView, 0, len(authors))
	for _, author := range authors {
		out = append(out, AuthorView{Author: author, ArticleCount: a.store.CountArticlesByAuthor(author.ID)})
	}
	return out
}

// DeleteAuthor removes an author unless articles still reference it.
func (a *App) DeleteAuthor(id string) error {
	if _, ok := a.store.GetAuthor(id); !ok {
		return ErrAuthorNotFound
	}
	if a.store.CountArticlesByAuthor(id) > 0 {
		return ErrAuthorHasArticles
	}
	a.store.DeleteAuthor(id)
	return nil
}

// CreateArticle validates input and stores a new article with a unique slug.
func (a *App) CreateArticle(in ArticleInput) (store.Article, error) {
	if err := a.validateArticleInput(in); err != nil {
		return store.Article{}, err
	}
	now := time.Now().UTC()
	article := store.Article{
		ID:        uuid.NewString(),
		Slug:      a.uniqueSlug(Slugify(in.Title)),
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		AuthorID:  in.AuthorID,
		Category:  in.Category,
		Tags:      normalizeTags(in.Tags),
		Published: in.Published,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.store.SaveArticle(article)
	return article, nil
}

// GetArticle returns the article and bumps its view counter.
func (a *App) GetArticle(id string) (ArticleView, error) {
	article, ok := a.store.IncrementViews(id)
	if !ok {
		return ArticleView{}, ErrArticleNotFound
	}
	return a.decorate(article, true), nil
}

// ReplaceArticle performs a full update (PUT semantics).
func (a *App) ReplaceArticle(id string, in ArticleInput) (store.Article, error) {
	current, ok := a.store.GetArticle(id)
	if !ok {
		return store.Article{}, ErrArticleNotFound
	}
	if err := a.validateArticleInput(in); err != nil {
		return store.Article{}, err
	}
	current.Title = strings.TrimSpace(in.Title)
	current.Content = in.Content
	current.AuthorID = in.AuthorID
	current.Category = in.Category
	current.Tags = normalizeTags(in.Tags)
	current.Published = in.Published
	current.UpdatedAt = time.Now().UTC()
	a.store.SaveArticle(current)
	return current, nil
}

// PatchArticle applies a partial update (PATCH semantics).
func (a *App) PatchArticle(id string, patch ArticlePatch) (store.Article, error) {
	current, ok := a.store.GetArticle(id)
	if !ok {
		return store.Article{}, ErrArticleNotFound
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if len(title) < 5 || len(title) > 200 {
			return store.Article{}, ErrTitleLength
		}
		current.Title = title
	}
	if patch.Content != nil {
		if len(*patch.Content) < 50 {
			return store.Article{}, ErrContentTooShort
		}
		current.Content = *patch.Content
	}
	if patch.Category != nil {
		if !validCategory(*patch.Category) {
			return store.Article{}, ErrUnknownCategory
		}
		current.Category = *patch.Category
	}
	if patch.Tags != nil {
		current.Tags = normalizeTags(*patch.Tags)
	}
	if patch.Published != nil {
		current.Published = *patch.Published
	}
	current.UpdatedAt = time.Now().UTC()
	a.store.SaveArticle(current)
	return current, nil
}

// DeleteArticle removes an article and its comments.
func (a *App) DeleteArticle(id string) error {
	if _, ok := a.store.GetArticle(id); !ok {
		return ErrArticleNotFound
	}
	a.store.DeleteArticle(id)
	return nil
}

// ListArticles applies filters and sorting, returning list views with excerpts.
func (a *App) ListArticles(opts ListOptions) []ArticleView {
	articles := a.store.ListArticles()
	filtered := articles[:0]
	for _, article := range articles {
		if opts.AuthorID != "" && article.AuthorID != opts.AuthorID {
			continue
		}
		if opts.Category != "" && !strings.EqualFold(article.Category, opts.Category) {
			continue
		}
		if opts.Published != nil && article.Published != *opts.Published {
			continue
		}
		if opts.Tag != "" && !hasTag(article.Tags, opts.Tag) {
			continue
		}
		filtered = append(filtered, article)
	}
	sortArticles(filtered, opts.Sort)
	out := make([]ArticleView, 0, len(filtered))
	for _, article := range filtered {
		out = append(out, a.decorate(article, false))
	}
	return out
}

// Popular returns the most viewed articles.
func (a *App) Popular(limit int) []ArticleView {
	if limit <= 0 {
		limit = 5
	}
	views := a.ListArticles(ListOptions{Sort: "-views"})
	if len(views) > limit {
		views = views[:limit]
	}
	return views
}

// Stats aggregates collection metrics.
func (a *App) Stats() Stats {
	articles := a.store.ListArticles()
	stats := Stats{
		TotalArticles: len(articles),
		TotalAuthors:  len(a.store.ListAuthors()),
		ByCategory:    make(map[string]int),
	}
	for _, article := range articles {
		stats.TotalViews += article.Views
		stats.TotalComments += a.store.CountComments(article.ID)
		if article.Published {
			stats.Published++
		} else {
			stats.Drafts++
		}
		if article.Category != "" {
			stats.ByCategory[article.Category]++
		}
	}
	if stats.TotalArticles > 0 {
		stats.AvgViewsPerDoc = float64(stats.TotalViews) / float64(stats.TotalArticles)
	}
	return stats
}

// AddComment validates and stores a comment on an article.
func (a *App) AddComment(articleID, authorName, authorEmail, content string) (store.Comment, error) {
	if _, ok := a.store.GetArticle(articleID); !ok {
		return store.Comment{}, ErrArticleNotFound
	}
	authorName = strings.TrimSpace(authorName)
	authorEmail = strings.TrimSpace(strings.ToLower(authorEmail))
	if authorName == "" || authorEmail == "" {
		return store.Comment{}, ErrCommenterMissing
	}
	if _, err := mail.ParseAddress(authorEmail); err != nil {
		return store.Comment{}, ErrAuthorEmailInvalid
	}
	if len(strings.TrimSpace(content)) < 10 {
		return store.Comment{}, ErrCommentTooShort
	}
	comment := store.Comment{
		ID:          uuid.NewString(),
		ArticleID:   articleID,
		AuthorName:  authorName,
		AuthorEmail: authorEmail,
		Content:     strings.TrimSpace(content),
		CreatedAt:   time.Now().UTC(),
	}
	a.store.AppendComment(comment)
	return comment, nil
}

// ListComments returns an article's comments.
func (a *App) ListComments(articleID string) ([]store.Comment, error) {
	if _, ok := a.store.GetArticle(articleID); !ok {
		return nil, ErrArticleNotFound
	}
	return a.store.ListComments(articleID), nil
}

// DeleteComment removes a comment from an article.
func (a *App) DeleteComment(articleID, commentID string) error {
	if _, ok := a.store.GetArticle(articleID); !ok {
		return ErrArticleNotFound
	}
	if !a.store.DeleteComment(articleID, commentID) {
		return ErrCommentNotFound
	}
	return nil
}

// Seed loads a small dataset for development environments.
func (a *App) Seed() {
	author, err := a.CreateAuthor("Ada Wong", "ada@example.com", "Writes about backend engineering")
	if err != nil {
		return
	}
	second, err := a.CreateAuthor("Sam Rivera", "sam@example.com", "Science columnist")
	if err != nil {
		return
	}
	articles := []ArticleInput{
		{
			Title:     "Designing resource-oriented APIs",
			Content:   strings.Repeat("Resources, verbs, and status codes form the REST contract. ", 3),
			AuthorID:  author.ID,
			Category:  "Technology",
			Tags:      []string{"rest", "api"},
			Published: true,
		},
		{
			Title:     "Pagination strategies that scale",
			Content:   strings.Repeat("Offset pagination is simple; cursor pagination is stable. ", 3),
			AuthorID:  author.ID,
			Category:  "Technology",
			Tags:      []string{"api"},
			Published: true,
		},
		{
			Title:     "A field guide to peer review",
			Content:   strings.Repeat("Reviews catch what tests cannot: intent and design drift. ", 3),
			AuthorID:  second.ID,
			Category:  "Science",
			Published: false,
		},
	}
	for _, in := range articles {
		if article, err := a.CreateArticle(in); err == nil && article.Published {
			_, _ = a.AddComment(article.ID, "Reader One", "reader@example.com", "Great walkthrough, thanks for sharing!")
		}
	}
}

func (a *App) decorate(article store.Article, includeAuthor bool) ArticleView {
	view := ArticleView{
		Article:      article,
		CommentCount: a.store.CountComments(article.ID),
		Excerpt:      Excerpt(article.Content, 200),
	}
	if includeAuthor {
		if author, ok := a.store.GetAuthor(article.AuthorID); ok {
			view.Author = &author
		}
	}
	return view
}

func (a *App) validateArticleInput(in ArticleInput) error {
	title := strings.TrimSpace(in.Title)
	if len(title) < 5 || len(title) > 200 {
		return ErrTitleLength
	}
	if len(in.Content) < 50 {
		return ErrContentTooShort
	}
	if _, ok := a.store.GetAuthor(in.AuthorID); !ok {
		return ErrUnknownAuthor
	}
	if !validCategory(in.Category) {
		return ErrUnknownCategory
	}
	return nil
}

func (a *App) uniqueSlug(base string) string {
	slug := base
	for i := 2; a.store.HasSlug(slug); i++ {
		slug = fmt.Sprintf("%s-%d", base, i)
	}
	return slug
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a URL-friendly identifier.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStrip.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "article"
	}
	return slug
}

func validCategory(category string) bool {
	if category == "" {
		return true
	}
	for _, c := range Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}

func sortArticles(articles []store.Article, key string) {
	switch key {
	case "views":
		sort.SliceStable(articles, func(i, j int) bool { return articles[i].Views < articles[j].Views })
	case "-views":
		sort.SliceStable(articles, func(i, j int) bool { return articles[i].Views > articles[j].Views })
	case "title":
		sort.SliceStable(articles, func(i, j int) bool { return articles[i].Title < articles[j].Title })
	case "created_at":
		sort.SliceStable(articles, func(i, j int) bool { return articles[i].CreatedAt.Before(articles[j].CreatedAt) })
	default: // newest first
		sort.SliceStable(articles, func(i, j int) bool { return articles[i].CreatedAt.After(articles[j].CreatedAt) })
	}
}
