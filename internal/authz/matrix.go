package authz

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed matrix.yaml
var matrixYAML []byte

// Rule maps a permission key to the roles allowed to exercise it.
type Rule struct {
	Key          string
	AllowedRoles []Role
	Scope        Scope
}

// Allows reports whether role is in the rule's allowed set.
func (r Rule) Allows(role Role) bool {
	for _, allowed := range r.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Matrix is the immutable permission table. Built once at startup and shared
// read-only by every evaluator, guard and handler.
type Matrix struct {
	rules map[string]Rule
}

type matrixFile struct {
	Permissions []struct {
		Key   string   `yaml:"key"`
		Roles []string `yaml:"roles"`
		Scope string   `yaml:"scope"`
	} `yaml:"permissions"`
}

// LoadMatrix parses the embedded permission table.
func LoadMatrix() (*Matrix, error) {
	return parseMatrix(matrixYAML)
}

func parseMatrix(raw []byte) (*Matrix, error) {
	var file matrixFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("authz: parse matrix: %w", err)
	}
	if len(file.Permissions) == 0 {
		return nil, fmt.Errorf("authz: matrix is empty")
	}
	rules := make(map[string]Rule, len(file.Permissions))
	granted := make(map[Role]bool)
	for _, entry := range file.Permissions {
		if entry.Key == "" {
			return nil, fmt.Errorf("authz: matrix entry without key")
		}
		if _, dup := rules[entry.Key]; dup {
			return nil, fmt.Errorf("authz: duplicate permission %q", entry.Key)
		}
		scope, err := parseScope(entry.Scope)
		if err != nil {
			return nil, fmt.Errorf("authz: permission %q: %w", entry.Key, err)
		}
		if len(entry.Roles) == 0 {
			return nil, fmt.Errorf("authz: permission %q allows no roles", entry.Key)
		}
		allowed := make([]Role, 0, len(entry.Roles))
		for _, rawRole := range entry.Roles {
			role, err := ParseRole(rawRole)
			if err != nil {
				return nil, fmt.Errorf("authz: permission %q: %w", entry.Key, err)
			}
			allowed = append(allowed, role)
			granted[role] = true
		}
		rules[entry.Key] = Rule{Key: entry.Key, AllowedRoles: allowed, Scope: scope}
	}
	// A role the table never mentions cannot do anything at all; that is a
	// misconfigured table, not a legitimate deny-all.
	for _, role := range Roles() {
		if !granted[role] {
			return nil, fmt.Errorf("authz: role %q appears in no permission", role)
		}
	}
	return &Matrix{rules: rules}, nil
}

// Lookup returns the rule for a permission key.
func (m *Matrix) Lookup(key string) (Rule, bool) {
	rule, ok := m.rules[key]
	return rule, ok
}

// Keys returns all permission keys sorted lexicographically.
func (m *Matrix) Keys() []string {
	keys := make([]string, 0, len(m.rules))
	for key := range m.rules {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
