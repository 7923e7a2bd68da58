// Package claims maps the provider's proprietary user-info JSON into the
// fixed identity record the gateway persists into sessions. The mapping is
// data-driven: a table of (claim, JSON path) rules plus an optional custom
// extractor per rule, so switching providers is a configuration change.
package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"

	"github.com/osmcloud/auth-gateway/internal/serviceerr"
)

// Claim identifies one field of the identity record.
type Claim string

const (
	ClaimSubjectID   Claim = "subjectId"
	ClaimDisplayName Claim = "displayName"
	ClaimAvatarURL   Claim = "avatarUrl"
)

// Identity is the normalized identity record extracted from a provider
// user-info document. SubjectID is the only field the gateway relies on;
// it must be non-empty after mapping.
type Identity struct {
	SubjectID   string `json:"subjectId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Extractor is the escape hatch for claims that a plain JSON path cannot
// express. It receives the decoded document and returns the claim value.
type Extractor func(doc any) (string, error)

// Rule binds a claim to a JSON path in the provider document. If Extract is
// set it takes precedence over Path. Failures on required rules abort the
// mapping; failures on optional rules yield an empty value.
type Rule struct {
	Claim    Claim
	Path     string
	Required bool
	Extract  Extractor
}

// DefaultRules is the mapping table for the OpenStreetMap user details
// document, see https://api.openstreetmap.org/api/0.6/user/details.json.
func DefaultRules() []Rule {
	return []Rule{
		{Claim: ClaimSubjectID, Path: "$.user.id", Required: true},
		{Claim: ClaimDisplayName, Path: "$.user.display_name", Required: true},
		{Claim: ClaimAvatarURL, Path: "$.user.img.href"},
	}
}

type compiledRule struct {
	Rule
	compiled *jsonpath.Compiled
}

// Mapper evaluates a rule table against provider user-info documents.
type Mapper struct {
	rules []compiledRule
}

// NewMapper compiles the rule table. Invalid JSON paths are reported at
// construction time rather than on the first login.
func NewMapper(rules []Rule) (*Mapper, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr := compiledRule{Rule: rule}

		if rule.Extract == nil {
			c, err := jsonpath.Compile(rule.Path)
			if err != nil {
				return nil, fmt.Errorf("compiling path %q for claim %q: %w", rule.Path, rule.Claim, err)
			}

			cr.compiled = c
		}

		compiled = append(compiled, cr)
	}

	return &Mapper{rules: compiled}, nil
}

// Map extracts the identity record from a raw user-info payload.
// A failed required rule returns a claims-mapping error; a failed optional
// rule leaves the claim empty. A mapped identity always has a non-empty
// subject id.
func (m *Mapper) Map(payload []byte) (Identity, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Identity{}, &serviceerr.Error{
			Err:         serviceerr.CodeClaimsMapping,
			Description: fmt.Sprintf("decoding user info payload: %v", err),
		}
	}

	var identity Identity
	for _, rule := range m.rules {
		value, err := rule.extract(doc)
		if err != nil || strings.TrimSpace(value) == "" {
			if !rule.Required {
				continue
			}

			return Identity{}, &serviceerr.Error{
				Err:         serviceerr.CodeClaimsMapping,
				Description: fmt.Sprintf("mandatory claim %q not found in user info", rule.Claim),
			}
		}

		identity.set(rule.Claim, value)
	}

	return identity, nil
}

func (r compiledRule) extract(doc any) (string, error) {
	if r.Extract != nil {
		return r.Extract(doc)
	}

	value, err := r.compiled.Lookup(doc)
	if err != nil {
		return "", err
	}

	return stringify(value)
}

func (i *Identity) set(claim Claim, value string) {
	switch claim {
	case ClaimSubjectID:
		i.SubjectID = value
	case ClaimDisplayName:
		i.DisplayName = value
	case ClaimAvatarURL:
		i.AvatarURL = value
	}
}

// stringify renders scalar JSON values as claim strings. OSM encodes the
// user id as a JSON number, so numbers keep their exact decimal form.
func stringify(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("claim value has non-scalar type %T", value)
	}
}
