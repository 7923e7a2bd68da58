// Package returnurl guards redirect targets against open-redirect attacks.
package returnurl

import "strings"

// DefaultPath is substituted whenever a candidate return URL is not allowed.
const DefaultPath = "/"

// Validator checks candidate redirect targets against a fixed allowlist.
// Membership is an exact string match; no prefix or pattern matching.
type Validator struct {
	allowed map[string]struct{}
}

func NewValidator(allowedReturnURLs []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedReturnURLs))
	for _, u := range allowedReturnURLs {
		allowed[u] = struct{}{}
	}

	return &Validator{allowed: allowed}
}

// Validate returns candidate unchanged if it is allowlisted, and DefaultPath
// otherwise. It never fails: a rejected URL silently degrades to the default
// so a manipulated link can never turn into an error page or an open redirect.
func (v *Validator) Validate(candidate string) string {
	if strings.TrimSpace(candidate) == "" {
		return DefaultPath
	}

	if _, ok := v.allowed[candidate]; !ok {
		return DefaultPath
	}

	return candidate
}
