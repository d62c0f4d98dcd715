// Package registry defines the permissioned resource hierarchy
// (organization, project, branch) and resolves effective permission levels
// across it. Organization-level grants cascade down to projects and
// branches; an explicit child-level entry always takes precedence over the
// inherited one.
package registry

import (
	"context"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/errs"
)

// OrgGetter fetches organization records for cascade resolution. Implemented
// by every metadata store backend.
type OrgGetter interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
}

// Resolver computes effective permission levels. It performs read-only
// lookups and holds no locks; callers re-resolve on every mutating request
// rather than caching a result across a multi-step flow.
type Resolver struct {
	orgs  OrgGetter
	cache *PermissionCache // nil when caching is disabled
}

// NewResolver creates a resolver over the given organization source.
func NewResolver(orgs OrgGetter) *Resolver {
	return &Resolver{orgs: orgs}
}

// WithCache attaches a short-TTL cache consulted by Resolve on read paths.
// RequireAtLeast always bypasses it.
func (r *Resolver) WithCache(cache *PermissionCache) *Resolver {
	r.cache = cache
	return r
}

// Resolve computes the principal's effective level on the resource:
// global-admin override first, then the resource's own permission map, then
// for projects and branches the parent organization's map.
func (r *Resolver) Resolve(ctx context.Context, principal auth.Principal, resource Resource) (auth.Level, error) {
	if r.cache != nil {
		if level, ok := r.cache.Get(ctx, principal.Username, resource.ResourceID()); ok {
			return level, nil
		}
	}
	level, err := r.resolve(ctx, principal, resource)
	if err != nil {
		return auth.None, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, principal.Username, resource.ResourceID(), level)
	}
	return level, nil
}

func (r *Resolver) resolve(ctx context.Context, principal auth.Principal, resource Resource) (auth.Level, error) {
	if principal.IsGlobalAdmin {
		return auth.Admin, nil
	}

	meta := resource.ResourceMeta()
	if levels, ok := meta.Permissions[principal.Username]; ok && len(levels) > 0 {
		return auth.HighestLevel(levels), nil
	}

	parentID := resource.ParentOrgID()
	if parentID == "" {
		return auth.None, nil
	}

	org, err := r.orgs.GetOrganization(ctx, parentID)
	if err != nil {
		if errs.IsNotFound(err) {
			// Dangling parent reference: no grant to inherit.
			return auth.None, nil
		}
		return auth.None, err
	}
	if levels, ok := org.Permissions[principal.Username]; ok && len(levels) > 0 {
		return auth.HighestLevel(levels), nil
	}
	return auth.None, nil
}

// RequireAtLeast fails with a PermissionError when the principal's effective
// level on the resource is below the required one. This is the single gate
// every operation passes through before touching storage; it never consults
// the cache.
func (r *Resolver) RequireAtLeast(ctx context.Context, principal auth.Principal, resource Resource, required auth.Level) error {
	level, err := r.resolve(ctx, principal, resource)
	if err != nil {
		return err
	}
	if !level.Covers(required) {
		return errs.NewPermission(resource.ResourceID(), required.String())
	}
	return nil
}
