package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyAllowed(t *testing.T) {
	cases := []struct {
		name   string
		policy *Policy
		tool   string
		want   bool
	}{
		{"nil policy permits everything", nil, "delete_goal", true},
		{"empty policy permits everything", &Policy{}, "delete_goal", true},
		{"deny wins over allow", &Policy{Allow: []string{"*"}, Deny: []string{"delete_*"}}, "delete_goal", false},
		{"deny pattern family", &Policy{Deny: []string{"delete_*"}}, "delete_goal", false},
		{"deny leaves siblings open", &Policy{Deny: []string{"delete_*"}}, "create_goal", true},
		{"allow list closes the rest", &Policy{Allow: []string{"get_*", "search_*"}}, "get_goal", true},
		{"allow list blocks unlisted", &Policy{Allow: []string{"get_*", "search_*"}}, "create_goal", false},
		{"case insensitive", &Policy{Deny: []string{"Delete_*"}}, "DELETE_GOAL", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.policy.Allowed(tc.tool))
		})
	}
}
