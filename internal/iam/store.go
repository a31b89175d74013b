package iam

import (
	"context"
	"time"
)

// ServiceUpdate carries optional service field changes.
type ServiceUpdate struct {
	Name        *string
	Description *string
	Status      *string
}

// UserUpdate carries optional user field changes. Password is the already
// hashed credential.
type UserUpdate struct {
	Email    *string
	Name     *string
	Password *string
	IsStaff  *bool
}

// Store describes persistence operations required by the IAM core. Set-valued
// lookups that feed the resolver return rows in grant-creation order.
type Store interface {
	// Point lookups.
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetService(ctx context.Context, id string) (Service, error)
	GetServiceByClientID(ctx context.Context, clientID string) (Service, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetPermission(ctx context.Context, id string) (Permission, error)

	// Resolver set lookups.
	DirectGlobalPermissions(ctx context.Context, userID string) ([]Permission, error)
	GlobalRoleGrants(ctx context.Context, userID string) ([]Role, error)
	ServiceAssignments(ctx context.Context, userID string) ([]ServiceAssignment, error)
	DirectServicePermissions(ctx context.Context, userID, serviceID string) ([]Permission, error)
	ServiceRoleGrants(ctx context.Context, userID, serviceID string) ([]Role, error)
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	// Services.
	CreateService(ctx context.Context, svc Service) (Service, error)
	UpdateService(ctx context.Context, id string, upd ServiceUpdate) (Service, error)
	DeleteService(ctx context.Context, id string) error
	ListServices(ctx context.Context) ([]Service, error)

	// Permissions and roles.
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id string) error
	ListPermissions(ctx context.Context, scope Scope, serviceID string) ([]Permission, error)
	CreateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context, serviceID string) ([]Role, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	// Users and lifecycle.
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeactivateUser(ctx context.Context, id, reason string, at time.Time) (User, error)
	ReactivateUser(ctx context.Context, id string) (User, error)
	MarkUserDeleted(ctx context.Context, id string, at time.Time) (User, error)

	// Grants.
	AssignService(ctx context.Context, a ServiceAssignment) (ServiceAssignment, error)
	RemoveAssignment(ctx context.Context, userID, serviceID string) error
	GrantServiceRole(ctx context.Context, g UserServiceRole) error
	RevokeServiceRole(ctx context.Context, userID, serviceID, roleID string) error
	GrantServicePermission(ctx context.Context, g UserServicePermission) error
	RevokeServicePermission(ctx context.Context, userID, serviceID, permissionID string) error
	GrantGlobalRole(ctx context.Context, g UserGlobalRole) error
	RevokeGlobalRole(ctx context.Context, userID, roleID string) error
	GrantGlobalPermission(ctx context.Context, g UserGlobalPermission) error
	RevokeGlobalPermission(ctx context.Context, userID, permissionID string) error
}
