// Package auth resolves operators from static API keys.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleQuery may ask questions, inspect schemas and read history.
	RoleQuery = "query"
	// RoleAdmin may also create and drop databases and archive history.
	RoleAdmin = "admin"
)

// Identity is the operator behind a request. The operator name doubles as the
// session id so each key gets its own selected database.
type Identity struct {
	Operator string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:operator:role|role" entries separated
// by commas.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:operator:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		operator := strings.TrimSpace(parts[1])
		if key == "" || operator == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/operator", entry)
		}
		roles := make([]string, 0, 2)
		for _, role := range strings.Split(parts[2], "|") {
			role = strings.TrimSpace(role)
			switch role {
			case "":
				continue
			case RoleQuery, RoleAdmin:
				roles = append(roles, role)
			default:
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		slices.Sort(roles)
		validator.keys[key] = Identity{Operator: operator, Roles: slices.Compact(roles)}
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
