// Package tenancy carries the caller identity (tenant, organization, user)
// that every service call is scoped by.
package tenancy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNoRequestContext = errors.New("tenancy: no request context")

type RequestContext struct {
	TenantID       uuid.UUID
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Roles          []string
	Permissions    []string
}

// HasOrganization reports whether the caller selected an organization.
func (rc RequestContext) HasOrganization() bool {
	return rc.OrganizationID != uuid.Nil
}

func (rc RequestContext) Validate() error {
	if rc.TenantID == uuid.Nil {
		return errors.New("tenancy: tenant id is required")
	}
	if rc.UserID == uuid.Nil {
		return errors.New("tenancy: user id is required")
	}
	return nil
}

type contextKey struct{}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

func FromContext(ctx context.Context) (RequestContext, error) {
	rc, ok := ctx.Value(contextKey{}).(RequestContext)
	if !ok {
		return RequestContext{}, ErrNoRequestContext
	}
	return rc, nil
}
