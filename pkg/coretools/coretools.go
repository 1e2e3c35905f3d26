// Package coretools registers the baseline goal-tracking toolset backed by
// an in-memory store: mutation tools paired with read-only getters so the
// executor can verify every state change by reading it back.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathoni/rudder/pkg/tools"
)

// Options configures core tool registration.
type Options struct {
	Store *Store
	Clock func() time.Time
}

// Goal is one tracked goal
type Goal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Due         string    `json:"due,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TimeEntry is one logged block of time against a goal
type TimeEntry struct {
	ID       string    `json:"id"`
	GoalID   string    `json:"goal_id"`
	Minutes  int       `json:"minutes"`
	Note     string    `json:"note,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// ErrNotFound is returned when a goal or time entry does not exist
var ErrNotFound = errors.New("not found")

var goalStatuses = map[string]bool{
	"active":    true,
	"paused":    true,
	"completed": true,
	"abandoned": true,
}

// Store is the in-memory backend for the core toolset
type Store struct {
	mu      sync.RWMutex
	goals   map[string]*Goal
	entries map[string][]*TimeEntry
	now     func() time.Time
}

// NewStore creates an empty store
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		goals:   make(map[string]*Goal),
		entries: make(map[string][]*TimeEntry),
		now:     clock,
	}
}

// CreateGoal adds a new active goal
func (s *Store) CreateGoal(title, description, due string) (*Goal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("goal title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	goal := &Goal{
		ID:          "goal-" + uuid.New().String()[:8],
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      "active",
		Due:         strings.TrimSpace(due),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.goals[goal.ID] = goal
	return cloneGoal(goal), nil
}

// GetGoal fetches one goal by id
func (s *Store) GetGoal(id string) (*Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, ok := s.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return cloneGoal(goal), nil
}

// UpdateGoal applies the non-empty fields to an existing goal
func (s *Store) UpdateGoal(id, title, description, status, due string) (*Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, ok := s.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}

	if title = strings.TrimSpace(title); title != "" {
		goal.Title = title
	}
	if description = strings.TrimSpace(description); description != "" {
		goal.Description = description
	}
	if status = strings.TrimSpace(strings.ToLower(status)); status != "" {
		if !goalStatuses[status] {
			return nil, fmt.Errorf("unknown goal status %q", status)
		}
		goal.Status = status
	}
	if due = strings.TrimSpace(due); due != "" {
		goal.Due = due
	}
	goal.UpdatedAt = s.now()
	return cloneGoal(goal), nil
}

// DeleteGoal removes a goal and its time entries
func (s *Store) DeleteGoal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	delete(s.goals, id)
	delete(s.entries, id)
	return nil
}

// SearchGoals returns goals whose title or description contains the query,
// case-insensitively, ordered by creation time.
func (s *Store) SearchGoals(query string) []*Goal {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Goal
	for _, goal := range s.goals {
		if needle == "" ||
			strings.Contains(strings.ToLower(goal.Title), needle) ||
			strings.Contains(strings.ToLower(goal.Description), needle) {
			matches = append(matches, cloneGoal(goal))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches
}

// LogTime records minutes spent against a goal
func (s *Store) LogTime(goalID string, minutes int, note string) (*TimeEntry, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("minutes must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[goalID]; !ok {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	entry := &TimeEntry{
		ID:       "time-" + uuid.New().String()[:8],
		GoalID:   goalID,
		Minutes:  minutes,
		Note:     strings.TrimSpace(note),
		LoggedAt: s.now(),
	}
	s.entries[goalID] = append(s.entries[goalID], entry)
	return &TimeEntry{
		ID: entry.ID, GoalID: entry.GoalID, Minutes: entry.Minutes,
		Note: entry.Note, LoggedAt: entry.LoggedAt,
	}, nil
}

// TimeLog returns all entries for a goal in logged order
func (s *Store) TimeLog(goalID string) ([]*TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.goals[goalID]; !ok {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	entries := make([]*TimeEntry, 0, len(s.entries[goalID]))
	for _, entry := range s.entries[goalID] {
		copied := *entry
		entries = append(entries, &copied)
	}
	return entries, nil
}

func cloneGoal(goal *Goal) *Goal {
	copied := *goal
	return &copied
}

// RegisterCoreTools registers the goal-tracking toolset on the registry.
func RegisterCoreTools(registry *tools.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	store := opts.Store
	if store == nil {
		store = NewStore(opts.Clock)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	defs := []tools.Definition{
		createGoalTool(store),
		getGoalTool(store),
		updateGoalTool(store),
		deleteGoalTool(store),
		searchGoalsTool(store),
		logTimeTool(store),
		getTimeLogTool(store),
		resolveDatetimeTool(clock),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func createGoalTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "create_goal",
		Description: "Create a new goal. Returns the created goal including its id.",
		Parameters: []tools.Parameter{
			{Name: "title", Type: "string", Description: "Goal title", Required: true},
			{Name: "description", Type: "string", Description: "Longer description"},
			{Name: "due", Type: "string", Description: "Due date, ISO 8601"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return store.CreateGoal(stringArg(args, "title"), stringArg(args, "description"), stringArg(args, "due"))
		},
	}
}

func getGoalTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "get_goal",
		Description: "Fetch one goal by id.",
		Parameters: []tools.Parameter{
			{Name: "id", Type: "string", Description: "Goal id", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return store.GetGoal(stringArg(args, "id"))
		},
	}
}

func updateGoalTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "update_goal",
		Description: "Update a goal's title, description, status or due date. Empty fields are left unchanged.",
		Parameters: []tools.Parameter{
			{Name: "id", Type: "string", Description: "Goal id", Required: true},
			{Name: "title", Type: "string", Description: "New title"},
			{Name: "description", Type: "string", Description: "New description"},
			{Name: "status", Type: "string", Description: "One of active, paused, completed, abandoned"},
			{Name: "due", Type: "string", Description: "New due date, ISO 8601"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return store.UpdateGoal(
				stringArg(args, "id"),
				stringArg(args, "title"),
				stringArg(args, "description"),
				stringArg(args, "status"),
				stringArg(args, "due"),
			)
		},
	}
}

func deleteGoalTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "delete_goal",
		Description: "Delete a goal and its logged time.",
		Parameters: []tools.Parameter{
			{Name: "id", Type: "string", Description: "Goal id", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			id := stringArg(args, "id")
			if err := store.DeleteGoal(id); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "deleted": true}, nil
		},
	}
}

func searchGoalsTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "search_goals",
		Description: "Search goals by title or description text.",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "Search text", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			matches := store.SearchGoals(stringArg(args, "query"))
			return map[string]interface{}{
				"results": matches,
				"count":   len(matches),
			}, nil
		},
	}
}

func logTimeTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "log_time",
		Description: "Log minutes spent working on a goal.",
		// get_time_log lists the entries back, so a log_time mutation is
		// verifiable like any other.
		Readback: "get_time_log",
		Parameters: []tools.Parameter{
			{Name: "goal_id", Type: "string", Description: "Goal id", Required: true},
			{Name: "minutes", Type: "number", Description: "Minutes spent", Required: true},
			{Name: "note", Type: "string", Description: "What was done"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return store.LogTime(stringArg(args, "goal_id"), intArg(args, "minutes"), stringArg(args, "note"))
		},
	}
}

func getTimeLogTool(store *Store) tools.Definition {
	return tools.Definition{
		Name:        "get_time_log",
		Description: "List logged time entries for a goal.",
		Parameters: []tools.Parameter{
			{Name: "goal_id", Type: "string", Description: "Goal id", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			entries, err := store.TimeLog(stringArg(args, "goal_id"))
			if err != nil {
				return nil, err
			}
			total := 0
			for _, entry := range entries {
				total += entry.Minutes
			}
			return map[string]interface{}{
				"entries":       entries,
				"total_minutes": total,
			}, nil
		},
	}
}

func resolveDatetimeTool(clock func() time.Time) tools.Definition {
	return tools.Definition{
		Name:        "resolve_datetime",
		Description: "Resolve a natural language date or time phrase to an ISO 8601 timestamp.",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Datetime phrase, e.g. \"tomorrow at 9am\"", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			text := stringArg(args, "text")
			resolved, err := ResolveDatetime(text, clock())
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"text": text,
				"iso":  resolved.Format(time.RFC3339),
			}, nil
		},
	}
}

func stringArg(args map[string]interface{}, name string) string {
	value, _ := args[name].(string)
	return value
}

func intArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
