// Package fallback decides which provider serves a request when the
// preferred one is unavailable. Both resolvers are pure functions over
// credential and capability booleans so they can be tested exhaustively.
package fallback

// CredentialFlags records which providers have usable credentials
type CredentialFlags struct {
	Gemini    bool
	OpenAI    bool
	Groq      bool
	Anthropic bool
}

// Has reports whether credentials exist for the named provider
func (c CredentialFlags) Has(provider string) bool {
	switch provider {
	case "gemini":
		return c.Gemini
	case "openai":
		return c.OpenAI
	case "groq":
		return c.Groq
	case "anthropic":
		return c.Anthropic
	default:
		return false
	}
}

// RoleProviders assigns a provider to each model role
type RoleProviders struct {
	Router    string
	Planner   string
	Responder string
}

// preferenceOrder is the fixed substitution order when a requested fallback
// provider has no credentials.
var preferenceOrder = []string{"openai", "gemini", "groq", "anthropic"}

// structuredOutputCapable marks providers that reliably emit schema-shaped
// JSON. Role assignment branches on this boolean, not on provider identity.
var structuredOutputCapable = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
	"groq":      false,
}

// ResolveFallbackProvider picks the fallback provider for a turn. It returns
// ("", "") when fallback is disabled, and a non-empty reason whenever the
// requested provider had to be substituted.
func ResolveFallbackProvider(enabled bool, requested, primary string, creds CredentialFlags) (string, string) {
	if !enabled {
		return "", ""
	}

	if creds.Has(requested) {
		return requested, ""
	}

	reason := requested + "_key_missing"
	for _, candidate := range preferenceOrder {
		if candidate == requested {
			continue
		}
		if creds.Has(candidate) {
			return candidate, reason
		}
	}

	// Nothing usable; the reason still explains why
	return "", reason
}

// ResolveFallbackRoleProviders assigns a provider per role for the given
// primary provider. A primary that is weak at structured output keeps the
// responder role but delegates router and planner to a structured-output
// capable provider. Returns nil when the primary itself has no credentials.
func ResolveFallbackRoleProviders(primary string, creds CredentialFlags) *RoleProviders {
	if !creds.Has(primary) {
		return nil
	}

	structured := primary
	if !structuredOutputCapable[primary] {
		if alt := firstStructuredWithCreds(primary, creds); alt != "" {
			structured = alt
		}
	}

	return &RoleProviders{
		Router:    structured,
		Planner:   structured,
		Responder: primary,
	}
}

func firstStructuredWithCreds(exclude string, creds CredentialFlags) string {
	for _, candidate := range preferenceOrder {
		if candidate == exclude {
			continue
		}
		if structuredOutputCapable[candidate] && creds.Has(candidate) {
			return candidate
		}
	}
	return ""
}
