package authz

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const rbacModel = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.perm == p.perm
`

// Enforcer decides whether a set of roles grants a permission. Policies are
// loaded once at construction and never mutated afterwards.
type Enforcer struct {
	enforcer *casbin.Enforcer
}

// NewEnforcer builds an enforcer from "ROLE,PERMISSION" policy lines. When no
// lines are given DefaultPolicies is used.
func NewEnforcer(policies []string) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: create enforcer: %w", err)
	}

	if len(policies) == 0 {
		policies = DefaultPolicies
	}
	for _, line := range policies {
		role, permission, ok := strings.Cut(line, ",")
		role, permission = strings.TrimSpace(role), strings.TrimSpace(permission)
		if !ok || role == "" || permission == "" {
			return nil, fmt.Errorf("authz: invalid policy %q", line)
		}
		if _, err := enf.AddPolicy(role, permission); err != nil {
			return nil, fmt.Errorf("authz: add policy %q: %w", line, err)
		}
	}

	return &Enforcer{enforcer: enf}, nil
}

// Allowed reports whether the permission is granted directly or through any
// of the roles.
func (e *Enforcer) Allowed(roles, granted []string, permission string) (bool, error) {
	for _, p := range granted {
		if p == permission {
			return true, nil
		}
	}
	for _, role := range roles {
		ok, err := e.enforcer.Enforce(role, permission)
		if err != nil {
			return false, fmt.Errorf("authz: enforce failed: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
