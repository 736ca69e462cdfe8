package app

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"apicourse/internal/util"
)

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a priority string. Empty defaults to medium.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	default:
		return "", false
	}
}

// Task is a to-do item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrTitleTooLong    = errors.New("title must be at most 200 characters")
	ErrInvalidPriority = errors.New("priority must be one of: low, medium, high")
	ErrTaskNotFound    = errors.New("task not found")
)

// Stats aggregates task counts for dashboards.
type Stats struct {
	Total          int              `json:"total"`
	Completed      int              `json:"completed"`
	Pending        int              `json:"pending"`
	CompletionRate float64          `json:"completionRate"`
	ByPriority     map[Priority]int `json:"byPriority"`
}

// ListFilter narrows List results. Nil fields mean "no filter".
type ListFilter struct {
	Completed *bool
	Priority  *Priority
}

// App holds the in-memory task collection.
// The store is a mutex-guarded map plus insertion order, which is all this
// chapter needs before the database chapter introduces persistence.
type App struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string
}

// New returns an empty task application.
func New() *App {
	return &App{tasks: make(map[string]Task)}
}

// Seed loads sample tasks for development environments.
func (a *App) Seed() {
	samples := []struct {
		title, description string
		priority           Priority
		completed          bool
	}{
		{"Read the routing chapter", "Start with the request lifecycle section", PriorityHigh, true},
		{"Build the tasks API", "CRUD endpoints plus search and stats", PriorityHigh, false},
		{"Write endpoint tests", "Cover the error paths too", PriorityMedium, false},
		{"Review status codes", "201 on create, 204 on delete", PriorityLow, false},
	}
	for _, s := range samples {
		task, err := a.Create(s.title, s.description, s.priority)
		if err != nil {
			continue
		}
		if s.completed {
			completed := true
			_, _ = a.Update(task.ID, nil, nil, &completed, nil)
		}
	}
}

// Create validates input and stores a new task.
func (a *App) Create(title, description string, priority Priority) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}
	if len(title) > 200 {
		return Task{}, ErrTitleTooLong
	}
	if priority == "" {
		priority = PriorityMedium
	}
	now := time.Now().UTC()
	task := Task{
		ID:          util.NewID(),
		Title:       title,
		Description: strings.TrimSpace(description),
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a.mu.Lock()
	a.tasks[task.ID] = task
	a.order = append(a.order, task.ID)
	a.mu.Unlock()
	return task, nil
}

// Get returns a task by ID.
func (a *App) Get(id string) (Task, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	task, ok := a.tasks[id]
	return task, ok
}

// List returns tasks in insertion order, optionally filtered.
func (a *App) List(filter ListFilter) []Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Task, 0, len(a.order))
	for _, id := range a.order {
		task, ok := a.tasks[id]
		if !ok {
			continue
		}
		if filter.Completed != nil && task.Completed != *filter.Completed {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}
		out = append(out, task)
	}
	return out
}

// Update applies a partial update. Nil fields keep their current value.
func (a *App) Update(id string, title, description *string, completed *bool, priority *Priority) (Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return Task{}, ErrTitleRequired
		}
		if len(trimmed) > 200 {
			return Task{}, ErrTitleTooLong
		}
		task.Title = trimmed
	}
	if description != nil {
		task.Description = strings.TrimSpace(*description)
	}
	if completed != nil {
		task.Completed = *completed
	}
	if priority != nil {
		task.Priority = *priority
	}
	task.UpdatedAt = time.Now().UTC()
	a.tasks[id] = task
	return task, nil
}

// Delete removes a task permanently.
func (a *App) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(a.tasks, id)
	filtered := a.order[:0]
	for _, item := range a.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	a.order = filtered
	return nil
}

// Search matches the query against title and description, case-insensitive.
func (a *App) Search(query string, completed *bool) []Task {
	query = strings.ToLower(strings.TrimSpace(query))
	results := a.List(ListFilter{Completed: completed})
	if query == "" {
		return results
	}
	matched := results[:0]
	for _, task := range results {
		if strings.Contains(strings.ToLower(task.Title), query) ||
			strings.Contains(strings.ToLower(task.Description), query) {
			matched = append(matched, task)
		}
	}
	return matched
}

// Stats computes aggregate counts.
func (a *App) Stats() Stats {
	tasks := a.List(ListFilter{})
	stats := Stats{
		Total:      len(tasks),
		ByPriority: map[Priority]int{PriorityLow: 0, PriorityMedium: 0, PriorityHigh: 0},
	}
	for _, task := range tasks {
		if task.Completed {
			stats.Completed++
		}
		stats.ByPriority[task.Priority]++
	}
	stats.Pending = stats.Total - stats.Completed
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats
}

// SortByCreatedDesc orders tasks newest first, the v2 listing default.
func SortByCreatedDesc(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// SortTasks orders tasks by a named key: created, title, or priority.
// A leading dash reverses the order. Unknown keys return false.
func SortTasks(tasks []Task, key string) bool {
	desc := strings.HasPrefix(key, "-")
	var less func(i, j int) bool
	switch strings.TrimPrefix(key, "-") {
	case "created":
		less = func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) }
	case "title":
		less = func(i, j int) bool {
			return strings.ToLower(tasks[i].Title) < strings.ToLower(tasks[j].Title)
		}
	case "priority":
		less = func(i, j int) bool { return priorityRank(tasks[i].Priority) < priorityRank(tasks[j].Priority) }
	default:
		return false
	}
	if desc {
		asc := less
		less = func(i, j int) bool { return asc(j, i) }
	}
	sort.SliceStable(tasks, less)
	return true
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}
