package tools

import (
	"path"
	"strings"
)

// Policy restricts which registered tools a run may invoke. Deny patterns
// win over allow patterns; an empty allow list permits everything not
// denied. Patterns use path.Match syntax, so "delete_*" covers a family.
type Policy struct {
	Allow []string
	Deny  []string
}

// Allowed reports whether the named tool may be invoked under this policy
func (p *Policy) Allowed(name string) bool {
	if p == nil {
		return true
	}
	name = strings.ToLower(name)

	for _, pattern := range p.Deny {
		if matchPattern(pattern, name) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, pattern := range p.Allow {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
