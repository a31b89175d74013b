package iam

import (
	"context"
	"sort"
)

// Claims is the resolved snapshot of a user's effective access rights.
// Permission sets are deduplicated and sorted; role lists preserve grant order
// and are never deduplicated.
type Claims struct {
	GlobalPermissions []string                 `json:"global_permissions"`
	GlobalRoles       []string                 `json:"global_roles"`
	Services          map[string]ServiceClaims `json:"services"`
}

// ServiceClaims is the per-service slice of Claims.
type ServiceClaims struct {
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

// Resolver computes effective global and per-service roles and permissions
// from the grant tables. It is a pure read over the store: users without
// grants resolve to empty claims, never an error.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks all assignment paths for the user: direct permission grants
// and role grants (expanded through role-permission links), first globally
// and then for every assigned service. Service grants for services the user
// is not assigned to are invisible; assignment is the root of visibility.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Claims, error) {
	globalPerms, globalRoles, err := r.resolveScope(ctx,
		func() ([]Permission, error) { return r.store.DirectGlobalPermissions(ctx, userID) },
		func() ([]Role, error) { return r.store.GlobalRoleGrants(ctx, userID) },
	)
	if err != nil {
		return Claims{}, err
	}

	assignments, err := r.store.ServiceAssignments(ctx, userID)
	if err != nil {
		return Claims{}, err
	}
	services := make(map[string]ServiceClaims, len(assignments))
	for _, a := range assignments {
		serviceID := a.ServiceID
		perms, roles, err := r.resolveScope(ctx,
			func() ([]Permission, error) { return r.store.DirectServicePermissions(ctx, userID, serviceID) },
			func() ([]Role, error) { return r.store.ServiceRoleGrants(ctx, userID, serviceID) },
		)
		if err != nil {
			return Claims{}, err
		}
		services[serviceID] = ServiceClaims{Permissions: perms, Roles: roles}
	}

	return Claims{
		GlobalPermissions: globalPerms,
		GlobalRoles:       globalRoles,
		Services:          services,
	}, nil
}

// resolveScope runs the common per-scope algorithm: union direct permission
// codes with the codes of every permission attached to each granted role.
func (r *Resolver) resolveScope(ctx context.Context,
	directPerms func() ([]Permission, error),
	roleGrants func() ([]Role, error),
) (permissions []string, roles []string, err error) {
	permSet := make(map[string]struct{})

	direct, err := directPerms()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range direct {
		permSet[p.Code] = struct{}{}
	}

	granted, err := roleGrants()
	if err != nil {
		return nil, nil, err
	}
	roles = make([]string, 0, len(granted))
	for _, role := range granted {
		roles = append(roles, role.Name)
		attached, err := r.store.RolePermissions(ctx, role.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range attached {
			permSet[p.Code] = struct{}{}
		}
	}

	return sortedCodes(permSet), roles, nil
}

func sortedCodes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
