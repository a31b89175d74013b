package iam

import (
	"fmt"
	"time"
)

// Scope says whether a permission or role applies platform-wide or within a
// single service.
type Scope string

const (
	ScopeGlobal  Scope = "GLOBAL"
	ScopeService Scope = "SERVICE"
)

// Service statuses.
const (
	ServiceStatusActive   = "ACTIVE"
	ServiceStatusInactive = "INACTIVE"
)

// User statuses. DELETED is terminal.
const (
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
	UserStatusDeleted  = "DELETED"
)

// Service is a tenant application registered on the platform. It owns
// service-scoped permissions and roles and authenticates machine-to-machine
// with its client id/secret pair.
type Service struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability. ServiceID is set iff Scope is
// SERVICE; permission codes are namespaced per service, global codes form a
// separate namespace.
type Permission struct {
	ID          string    `json:"id"`
	Scope       Scope     `json:"scope"`
	ServiceID   string    `json:"service_id,omitempty"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the scope/service invariant.
func (p Permission) Validate() error {
	switch p.Scope {
	case ScopeGlobal:
		if p.ServiceID != "" {
			return fmt.Errorf("%w: global permission must not reference a service", ErrInvalidInput)
		}
	case ScopeService:
		if p.ServiceID == "" {
			return fmt.Errorf("%w: service permission requires a service", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported scope %q", ErrInvalidInput, p.Scope)
	}
	if p.Code == "" {
		return fmt.Errorf("%w: permission code is required", ErrInvalidInput)
	}
	return nil
}

// Role groups permissions. An empty ServiceID marks a global role; names are
// unique within their scope.
type Role struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"service_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Global reports whether the role is platform-wide.
func (r Role) Global() bool { return r.ServiceID == "" }

// User is a human account. An empty PasswordHash means the credential is
// unusable and the user cannot log in with a password.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name,omitempty"`
	PasswordHash   string     `json:"-"`
	Status         string     `json:"status"`
	InactiveAt     *time.Time `json:"inactive_at,omitempty"`
	InactiveReason string     `json:"inactive_reason,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	IsStaff        bool       `json:"is_staff"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ServiceAssignment records that a user is onboarded to a service. It is the
// root of visibility: service grants are only resolved for assigned services.
type ServiceAssignment struct {
	UserID    string    `json:"user_id"`
	ServiceID string    `json:"service_id"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermission links a role to a permission. Callers are responsible for
// only linking roles to permissions of the same scope.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserServiceRole grants a user a role within one service.
type UserServiceRole struct {
	UserID    string    `json:"user_id"`
	ServiceID string    `json:"service_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserServicePermission grants a user a permission within one service without
// role mediation. Revoking a role never touches these.
type UserServicePermission struct {
	UserID       string    `json:"user_id"`
	ServiceID    string    `json:"service_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserGlobalRole grants a user a platform-wide role.
type UserGlobalRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserGlobalPermission grants a user a platform-wide permission directly.
type UserGlobalPermission struct {
	UserID       string    `json:"user_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}
