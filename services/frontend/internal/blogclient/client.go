package blogclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the blog service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a blog service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Author mirrors the blog service author payload.
type Author struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Bio          string    `json:"bio,omitempty"`
	ArticleCount int       `json:"articleCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Article mirrors the blog service article payload, list and detail views.
type Article struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Excerpt      string    `json:"excerpt,omitempty"`
	AuthorID     string    `json:"authorId"`
	Author       *Author   `json:"author,omitempty"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Published    bool      `json:"published"`
	Views        int       `json:"views"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Comment mirrors the blog service comment payload.
type Comment struct {
	ID          string    `json:"id"`
	ArticleID   string    `json:"articleId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ArticleList is one page of articles.
type ArticleList struct {
	Items      []Article `json:"items"`
	Page       int       `json:"page"`
	PerPage    int       `json:"perPage"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// ListOptions narrows and pages an article listing.
type ListOptions struct {
	Category  string
	Page      int
	PerPage   int
	Published *bool
}

// ArticleInput is the payload for creating an article.
type ArticleInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	AuthorID  string   `json:"authorId"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags,omitempty"`
	Published bool     `json:"published"`
}

// NewClient constructs a blog service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) ListArticles(opts ListOptions) (ArticleList, error) {
	query := url.Values{}
	if opts.Category != "" {
		query.Set("category", opts.Category)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		query.Set("perPage", strconv.Itoa(opts.PerPage))
	}
	if opts.Published != nil {
		query.Set("published", strconv.FormatBool(*opts.Published))
	}
	path := "/api/v2/articles"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var list ArticleList
	if err := c.doJSON(http.MethodGet, path, nil, &list); err != nil {
		return ArticleList{}, err
	}
	return list, nil
}

func (c *Client) GetArticle(id string) (Article, error) {
	var article Article
	if err := c.doJSON(http.MethodGet, "/api/v2/articles/"+url.PathEscape(id), nil, &article); err != nil {
		return Article{}, err
	}
	return article, nil
}

func (c *Client) CreateArticle(in ArticleInput) (Article, error) {
	var article Article
	if err := c.doJSON(http.MethodPost, "/api/v2/articles", in, &article); err != nil {
		return Article{}, err
	}
	return article, nil
}

func (c *Client) ListAuthors() ([]Author, error) {
	var resp struct {
		Items []Author `json:"items"`
	}
	if err := c.doJSON(http.MethodGet, "/api/v2/authors", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) ListComments(articleID string) ([]Comment, error) {
	var resp struct {
		Items []Comment `json:"items"`
	}
	path := fmt.Sprintf("/api/v2/articles/%s/comments", url.PathEscape(articleID))
	if err := c.doJSON(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) AddComment(articleID, authorName, authorEmail, content string) (Comment, error) {
	payload := map[string]string{
		"authorName":  authorName,
		"authorEmail": authorEmail,
		"content":     content,
	}
	var comment Comment
	path := fmt.Sprintf("/api/v2/articles/%s/comments", url.PathEscape(articleID))
	if err := c.doJSON(http.MethodPost, path, payload, &comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (c *Client) Categories() ([]string, error) {
	var resp struct {
		Items []string `json:"items"`
	}
	if err := c.doJSON(http.MethodGet, "/api/v2/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) doJSON(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
