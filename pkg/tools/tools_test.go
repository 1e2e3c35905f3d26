package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes its input",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "upper", Type: "boolean", Description: "Uppercase the output", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	out, err := r.Invoke(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.Register(echoTool())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Invoke(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestInvokeRejectsWrongTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	_, err := r.Invoke(context.Background(), "echo", map[string]interface{}{
		"text":  "hello",
		"upper": "yes",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestInvokeSerializesStructuredOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "get_goal",
		Description: "Returns a goal record",
		Parameters:  []Parameter{{Name: "id", Type: "string", Description: "Goal ID", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"id": args["id"], "title": "Learn Go"}, nil
		},
	}))

	out, err := r.Invoke(context.Background(), "get_goal", map[string]interface{}{"id": "g-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"g-1","title":"Learn Go"}`, out)
}

func TestInvokeHonorsToolTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "slow",
		Description: "Sleeps past its timeout",
		Parameters:  []Parameter{},
		Timeout:     20 * time.Millisecond,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return "done", nil
			}
		},
	}))

	_, err := r.Invoke(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestMissingRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:        "create_goal",
		Description: "Creates a goal",
		Parameters: []Parameter{
			{Name: "title", Type: "string", Description: "Goal title", Required: true},
			{Name: "deadline", Type: "string", Description: "Deadline", Required: true},
			{Name: "notes", Type: "string", Description: "Notes", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "ok", nil
		},
	}))

	missing, err := r.MissingRequired("create_goal", map[string]interface{}{"title": "Run"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deadline"}, missing)

	missing, err = r.MissingRequired("create_goal", map[string]interface{}{"title": "", "deadline": "friday"})
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, missing)

	missing, err = r.MissingRequired("create_goal", map[string]interface{}{"title": "Run", "deadline": "friday"})
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = r.MissingRequired("unknown", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection reset")

	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", Transient(base))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))

	// The wrapped cause stays reachable
	assert.ErrorIs(t, Transient(base), base)
}

func TestMutationClassification(t *testing.T) {
	assert.True(t, IsMutationName("create_goal"))
	assert.True(t, IsMutationName("Update_Goal"))
	assert.True(t, IsMutationName("delete_session"))
	assert.True(t, IsMutationName("log_time"))
	assert.False(t, IsMutationName("get_goal"))
	assert.False(t, IsMutationName("search_goals"))
	assert.False(t, IsMutationName("resolve_datetime"))
}

func TestCanonicalAction(t *testing.T) {
	assert.Equal(t, "create goal", CanonicalAction("create_goal"))
	assert.Equal(t, "log time", CanonicalAction(" Log_Time "))
}

func TestReadbackDerivation(t *testing.T) {
	assert.Equal(t, "get_goal", ReadbackName("create_goal"))
	assert.Equal(t, "get_goal", ReadbackName("update_goal"))
	assert.Equal(t, "", ReadbackName("search_goals"))

	def := Definition{Name: "update_goal", Readback: "get_goal_detail"}
	assert.Equal(t, "get_goal_detail", def.ReadbackTool())

	def = Definition{Name: "update_goal"}
	assert.Equal(t, "get_goal", def.ReadbackTool())
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	require.NoError(t, r.Register(Definition{
		Name:        "aardvark",
		Description: "First alphabetically",
		Parameters:  []Parameter{},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "", nil
		},
	}))

	assert.Equal(t, []string{"aardvark", "echo"}, r.List())
}
