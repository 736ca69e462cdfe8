package app

import (
	"strings"
	"testing"

	"apicourse/services/blog/internal/store"
)

func newApp(t *testing.T) (*App, store.Author) {
	t.Helper()
	a := New(store.NewMemoryStore())
	author, err := a.CreateAuthor("Test Author", "test@example.com", "")
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	return a, author
}

func validInput(authorID string) ArticleInput {
	return ArticleInput{
		Title:    "A perfectly reasonable title",
		Content:  strings.Repeat("content ", 10),
		AuthorID: authorID,
		Category: "Technology",
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":          "hello-world",
		"  Spaces   everywhere ": "spaces-everywhere",
		"Go 1.25 & beyond":       "go-1-25-beyond",
		"!!!":                    "article",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugUniquified(t *testing.T) {
	a, author := newApp(t)
	in := validInput(author.ID)
	first, err := a.CreateArticle(in)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := a.CreateArticle(in)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.Slug == second.Slug {
		t.Fatalf("expected distinct slugs, both %q", first.Slug)
	}
	if !strings.HasPrefix(second.Slug, first.Slug) {
		t.Fatalf("expected suffixed slug, got %q vs %q", second.Slug, first.Slug)
	}
}

func TestArticleValidation(t *testing.T) {
	a, author := newApp(t)

	in := validInput(author.ID)
	in.Title = "shrt"
	if _, err := a.CreateArticle(in); err != ErrTitleLength {
		t.Fatalf("short title: got %v", err)
	}

	in = validInput(author.ID)
	in.Content = "too short"
	if _, err := a.CreateArticle(in); err != ErrContentTooShort {
		t.Fatalf("short content: got %v", err)
	}

	in = validInput(author.ID)
	in.AuthorID = "missing"
	if _, err := a.CreateArticle(in); err != ErrUnknownAuthor {
		t.Fatalf("unknown author: got %v", err)
	}

	in = validInput(author.ID)
	in.Category = "Astrology"
	if _, err := a.CreateArticle(in); err != ErrUnknownCategory {
		t.Fatalf("unknown category: got %v", err)
	}
}

func TestExcerptStripsHTML(t *testing.T) {
	got := Excerpt("<p>Hello <b>bold</b> world</p><script>alert(1)</script>", 200)
	if strings.Contains(got, "<") || strings.Contains(got, "alert") {
		t.Fatalf("excerpt kept markup: %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "bold") {
		t.Fatalf("excerpt lost text: %q", got)
	}
}

func TestExcerptTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := Excerpt(long, 50)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if len([]rune(got)) > 54 {
		t.Fatalf("excerpt too long: %d runes", len([]rune(got)))
	}
}

func TestDeleteAuthorBlockedByArticles(t *testing.T) {
	a, author := newApp(t)
	if _, err := a.CreateArticle(validInput(author.ID)); err != nil {
		t.Fatalf("create article: %v", err)
	}
	if err := a.DeleteAuthor(author.ID); err != ErrAuthorHasArticles {
		t.Fatalf("expected ErrAuthorHasArticles, got %v", err)
	}
}

func TestCommentRules(t *testing.T) {
	a, author := newApp(t)
	article, err := a.CreateArticle(validInput(author.ID))
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	if _, err := a.AddComment(article.ID, "Bob", "bob@example.com", "short"); err != ErrCommentTooShort {
		t.Fatalf("short comment: got %v", err)
	}
	if _, err := a.AddComment(article.ID, "", "bob@example.com", "long enough comment"); err != ErrCommenterMissing {
		t.Fatalf("missing name: got %v", err)
	}
	comment, err := a.AddComment(article.ID, "Bob", "Bob@Example.com", "a perfectly fine comment")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if comment.AuthorEmail != "bob@example.com" {
		t.Fatalf("email not normalized: %q", comment.AuthorEmail)
	}
}
