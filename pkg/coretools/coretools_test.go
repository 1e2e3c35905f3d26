package coretools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathoni/rudder/pkg/tools"
)

var testNow = time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC) // a Friday

func fixedClock() time.Time { return testNow }

func newRegisteredStore(t *testing.T) (*Store, *tools.Registry) {
	t.Helper()
	store := NewStore(fixedClock)
	registry := tools.NewRegistry()
	require.NoError(t, RegisterCoreTools(registry, Options{Store: store, Clock: fixedClock}))
	return store, registry
}

func TestRegisterCoreTools(t *testing.T) {
	_, registry := newRegisteredStore(t)

	expected := []string{
		"create_goal", "delete_goal", "get_goal", "get_time_log",
		"log_time", "resolve_datetime", "search_goals", "update_goal",
	}
	assert.Equal(t, expected, registry.List())

	// Every mutation tool must resolve to a registered readback getter
	for _, name := range expected {
		def := registry.Get(name)
		require.NotNil(t, def)
		if def.IsMutation() {
			assert.NotNil(t, registry.Get(def.ReadbackTool()), "readback for %s", name)
		}
	}
}

func TestGoalLifecycle(t *testing.T) {
	store, _ := newRegisteredStore(t)

	goal, err := store.CreateGoal("Run a marathon", "sub 4 hours", "2026-12-01")
	require.NoError(t, err)
	assert.NotEmpty(t, goal.ID)
	assert.Equal(t, "active", goal.Status)

	fetched, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, "Run a marathon", fetched.Title)

	updated, err := store.UpdateGoal(goal.ID, "", "", "completed", "")
	require.NoError(t, err)
	assert.Equal(t, "completed", updated.Status)
	assert.Equal(t, "Run a marathon", updated.Title)

	_, err = store.UpdateGoal(goal.ID, "", "", "bogus", "")
	assert.Error(t, err)

	require.NoError(t, store.DeleteGoal(goal.ID))
	_, err = store.GetGoal(goal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGoalRequiresTitle(t *testing.T) {
	store := NewStore(fixedClock)
	_, err := store.CreateGoal("   ", "", "")
	assert.Error(t, err)
}

func TestSearchGoals(t *testing.T) {
	store, _ := newRegisteredStore(t)

	first, err := store.CreateGoal("Run a marathon", "", "")
	require.NoError(t, err)
	_, err = store.CreateGoal("Learn Go", "work through the tour and build things", "")
	require.NoError(t, err)

	matches := store.SearchGoals("marathon")
	require.Len(t, matches, 1)
	assert.Equal(t, first.ID, matches[0].ID)

	// Description text matches too
	assert.Len(t, store.SearchGoals("build"), 1)
	assert.Len(t, store.SearchGoals(""), 2)
	assert.Empty(t, store.SearchGoals("swimming"))
}

func TestTimeLogging(t *testing.T) {
	store, _ := newRegisteredStore(t)

	goal, err := store.CreateGoal("Learn Go", "", "")
	require.NoError(t, err)

	_, err = store.LogTime(goal.ID, 45, "read effective go")
	require.NoError(t, err)
	_, err = store.LogTime(goal.ID, 30, "")
	require.NoError(t, err)

	entries, err := store.TimeLog(goal.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 45, entries[0].Minutes)

	_, err = store.LogTime(goal.ID, 0, "")
	assert.Error(t, err)
	_, err = store.LogTime("goal-missing", 10, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToolInvocationRoundTrip(t *testing.T) {
	_, registry := newRegisteredStore(t)
	ctx := context.Background()

	created, err := registry.Invoke(ctx, "create_goal", map[string]interface{}{"title": "Learn Go"})
	require.NoError(t, err)
	assert.Contains(t, created, `"status":"active"`)

	results, err := registry.Invoke(ctx, "search_goals", map[string]interface{}{"query": "go"})
	require.NoError(t, err)
	assert.Contains(t, results, `"count":1`)
}

func TestResolveDatetime(t *testing.T) {
	cases := []struct {
		text string
		want time.Time
	}{
		{"2026-12-01", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-12-01T08:00:00Z", time.Date(2026, 12, 1, 8, 0, 0, 0, time.UTC)},
		{"now", testNow},
		{"today", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)},
		{"tomorrow", time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)},
		{"yesterday at 5pm", time.Date(2026, 8, 27, 17, 0, 0, 0, time.UTC)},
		{"tomorrow at 9am", time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)},
		{"monday", time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)},
		{"friday", time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)},
		{"next friday at 9:30", time.Date(2026, 9, 11, 9, 30, 0, 0, time.UTC)},
		{"in 2 hours", testNow.Add(2 * time.Hour)},
		{"in 3 days", testNow.AddDate(0, 0, 3)},
		{"in 1 week", testNow.AddDate(0, 0, 7)},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, err := ResolveDatetime(tc.text, testNow)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestResolveDatetimeRejectsGibberish(t *testing.T) {
	_, err := ResolveDatetime("whenever the mood strikes", testNow)
	assert.Error(t, err)
	_, err = ResolveDatetime("", testNow)
	assert.Error(t, err)
}
