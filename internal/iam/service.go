package iam

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	clientIDBytes     = 32
	clientSecretBytes = 64
)

// Core implements the high level IAM operations: login and token issuance on
// top of the resolver, and the admin surface for services, roles, permissions,
// users, and grants. All writes delegate to the store; Core owns input
// validation and lifecycle rules.
type Core struct {
	store  Store
	issuer *Issuer
	now    func() time.Time
}

// CoreOption configures Core behavior.
type CoreOption func(*Core)

// WithCoreClock overrides the time source (useful for tests).
func WithCoreClock(fn func() time.Time) CoreOption {
	return func(c *Core) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewCore(store Store, issuer *Issuer, opts ...CoreOption) (*Core, error) {
	if store == nil {
		return nil, errors.New("iam: store is required")
	}
	if issuer == nil {
		return nil, errors.New("iam: issuer is required")
	}
	c := &Core{store: store, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login authenticates the email/password pair and issues an access token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (c *Core) Login(ctx context.Context, email, password string) (string, time.Duration, User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", 0, User{}, ErrInvalidCredentials
	}
	user, err := c.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", 0, User{}, ErrInvalidCredentials
		}
		return "", 0, User{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", 0, User{}, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return "", 0, User{}, ErrAccountNotActive
	}
	token, ttl, err := c.issuer.Issue(ctx, user)
	if err != nil {
		return "", 0, User{}, err
	}
	return token, ttl, user, nil
}

// IssueToken issues a token for an already authenticated user.
func (c *Core) IssueToken(ctx context.Context, user User) (string, time.Duration, error) {
	return c.issuer.Issue(ctx, user)
}

// Resolve exposes the resolver for callers holding a user id.
func (c *Core) Resolve(ctx context.Context, userID string) (Claims, error) {
	return c.issuer.resolver.Resolve(ctx, userID)
}

// --- Services ---

// CreateService registers a tenant application and generates its client
// credentials. The plaintext secret is only returned here.
func (c *Core) CreateService(ctx context.Context, name, description string) (Service, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Service{}, "", fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}
	clientID, err := randomToken(clientIDBytes)
	if err != nil {
		return Service{}, "", err
	}
	secret, err := randomToken(clientSecretBytes)
	if err != nil {
		return Service{}, "", err
	}
	svc, err := c.store.CreateService(ctx, Service{
		Name:         name,
		Description:  strings.TrimSpace(description),
		ClientID:     clientID,
		ClientSecret: secret,
		Status:       ServiceStatusActive,
	})
	if err != nil {
		return Service{}, "", err
	}
	return svc, secret, nil
}

func (c *Core) GetService(ctx context.Context, id string) (Service, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Service{}, fmt.Errorf("%w: service_id is required", ErrInvalidInput)
	}
	return c.store.GetService(ctx, id)
}

func (c *Core) ListServices(ctx context.Context) ([]Service, error) {
	return c.store.ListServices(ctx)
}

func (c *Core) UpdateService(ctx context.Context, id string, upd ServiceUpdate) (Service, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Service{}, fmt.Errorf("%w: service_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Service{}, fmt.Errorf("%w: service name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToUpper(*upd.Status))
		if status != ServiceStatusActive && status != ServiceStatusInactive {
			return Service{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
		}
		upd.Status = &status
	}
	return c.store.UpdateService(ctx, id, upd)
}

// DeleteService removes the service. The store cascades the deletion to the
// service's permissions, roles, assignments, and grants.
func (c *Core) DeleteService(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: service_id is required", ErrInvalidInput)
	}
	return c.store.DeleteService(ctx, id)
}

// --- Permissions ---

// CreateGlobalPermission creates a permission in the global namespace.
func (c *Core) CreateGlobalPermission(ctx context.Context, code, description string) (Permission, error) {
	return c.createPermission(ctx, Permission{
		Scope:       ScopeGlobal,
		Code:        strings.TrimSpace(code),
		Description: strings.TrimSpace(description),
	})
}

// CreateServicePermission creates a permission namespaced to one service.
func (c *Core) CreateServicePermission(ctx context.Context, serviceID, code, description string) (Permission, error) {
	return c.createPermission(ctx, Permission{
		Scope:       ScopeService,
		ServiceID:   strings.TrimSpace(serviceID),
		Code:        strings.TrimSpace(code),
		Description: strings.TrimSpace(description),
	})
}

func (c *Core) createPermission(ctx context.Context, p Permission) (Permission, error) {
	if err := p.Validate(); err != nil {
		return Permission{}, err
	}
	return c.store.CreatePermission(ctx, p)
}

func (c *Core) DeletePermission(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	return c.store.DeletePermission(ctx, id)
}

func (c *Core) ListPermissions(ctx context.Context, scope Scope, serviceID string) ([]Permission, error) {
	if scope != ScopeGlobal && scope != ScopeService {
		return nil, fmt.Errorf("%w: unsupported scope %q", ErrInvalidInput, scope)
	}
	return c.store.ListPermissions(ctx, scope, strings.TrimSpace(serviceID))
}

// --- Roles ---

// CreateRole creates a role. An empty serviceID creates a global role.
func (c *Core) CreateRole(ctx context.Context, serviceID, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return c.store.CreateRole(ctx, Role{
		ServiceID:   strings.TrimSpace(serviceID),
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

func (c *Core) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return c.store.GetRole(ctx, id)
}

func (c *Core) ListRoles(ctx context.Context, serviceID string) ([]Role, error) {
	return c.store.ListRoles(ctx, strings.TrimSpace(serviceID))
}

func (c *Core) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return c.store.DeleteRole(ctx, id)
}

// SetRolePermissions replaces the role's permission links. Scope mixing is
// not rejected here; callers link roles to permissions of the same scope.
func (c *Core) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return c.store.SetRolePermissions(ctx, roleID, dedupeStrings(permissionIDs))
}

// --- Users ---

// CreateUser registers a user. An empty password leaves the credential
// unusable: the user exists but cannot log in until a password is set.
func (c *Core) CreateUser(ctx context.Context, email, name, password string, isStaff bool) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	var hash string
	if password != "" {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			return User{}, err
		}
	}
	return c.store.CreateUser(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Status:       UserStatusActive,
		IsStaff:      isStaff,
	})
}

func (c *Core) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return c.store.GetUser(ctx, id)
}

func (c *Core) ListUsers(ctx context.Context) ([]User, error) {
	return c.store.ListUsers(ctx)
}

func (c *Core) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		pw := *upd.Password
		if pw == "" {
			return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return c.store.UpdateUser(ctx, id, upd)
}

// DeactivateUser moves an ACTIVE user to INACTIVE, recording the reason.
func (c *Core) DeactivateUser(ctx context.Context, id, reason string) (User, error) {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.Status != UserStatusActive {
		return User{}, fmt.Errorf("%w: user is not active", ErrInvalidInput)
	}
	return c.store.DeactivateUser(ctx, user.ID, strings.TrimSpace(reason), c.now().UTC())
}

// ReactivateUser moves an INACTIVE user back to ACTIVE and clears the
// deactivation record.
func (c *Core) ReactivateUser(ctx context.Context, id string) (User, error) {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.Status != UserStatusInactive {
		return User{}, fmt.Errorf("%w: user is not inactive", ErrInvalidInput)
	}
	return c.store.ReactivateUser(ctx, user.ID)
}

// DeleteUser marks the user DELETED. The transition is terminal.
func (c *Core) DeleteUser(ctx context.Context, id string) (User, error) {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.Status == UserStatusDeleted {
		return User{}, fmt.Errorf("%w: user is already deleted", ErrInvalidInput)
	}
	return c.store.MarkUserDeleted(ctx, user.ID, c.now().UTC())
}

// --- Grants ---

// AssignService onboards a user to a service, recording the acting admin.
func (c *Core) AssignService(ctx context.Context, userID, serviceID, createdBy string) (ServiceAssignment, error) {
	userID = strings.TrimSpace(userID)
	serviceID = strings.TrimSpace(serviceID)
	if userID == "" || serviceID == "" {
		return ServiceAssignment{}, fmt.Errorf("%w: user_id and service_id are required", ErrInvalidInput)
	}
	return c.store.AssignService(ctx, ServiceAssignment{
		UserID:    userID,
		ServiceID: serviceID,
		CreatedBy: strings.TrimSpace(createdBy),
	})
}

func (c *Core) RemoveAssignment(ctx context.Context, userID, serviceID string) error {
	userID = strings.TrimSpace(userID)
	serviceID = strings.TrimSpace(serviceID)
	if userID == "" || serviceID == "" {
		return fmt.Errorf("%w: user_id and service_id are required", ErrInvalidInput)
	}
	return c.store.RemoveAssignment(ctx, userID, serviceID)
}

func (c *Core) GrantServiceRole(ctx context.Context, userID, serviceID, roleID string) error {
	if err := requireIDs(userID, serviceID, roleID); err != nil {
		return err
	}
	return c.store.GrantServiceRole(ctx, UserServiceRole{UserID: userID, ServiceID: serviceID, RoleID: roleID})
}

func (c *Core) RevokeServiceRole(ctx context.Context, userID, serviceID, roleID string) error {
	if err := requireIDs(userID, serviceID, roleID); err != nil {
		return err
	}
	return c.store.RevokeServiceRole(ctx, userID, serviceID, roleID)
}

func (c *Core) GrantServicePermission(ctx context.Context, userID, serviceID, permissionID string) error {
	if err := requireIDs(userID, serviceID, permissionID); err != nil {
		return err
	}
	return c.store.GrantServicePermission(ctx, UserServicePermission{UserID: userID, ServiceID: serviceID, PermissionID: permissionID})
}

func (c *Core) RevokeServicePermission(ctx context.Context, userID, serviceID, permissionID string) error {
	if err := requireIDs(userID, serviceID, permissionID); err != nil {
		return err
	}
	return c.store.RevokeServicePermission(ctx, userID, serviceID, permissionID)
}

func (c *Core) GrantGlobalRole(ctx context.Context, userID, roleID string) error {
	if err := requireIDs(userID, roleID); err != nil {
		return err
	}
	return c.store.GrantGlobalRole(ctx, UserGlobalRole{UserID: userID, RoleID: roleID})
}

func (c *Core) RevokeGlobalRole(ctx context.Context, userID, roleID string) error {
	if err := requireIDs(userID, roleID); err != nil {
		return err
	}
	return c.store.RevokeGlobalRole(ctx, userID, roleID)
}

func (c *Core) GrantGlobalPermission(ctx context.Context, userID, permissionID string) error {
	if err := requireIDs(userID, permissionID); err != nil {
		return err
	}
	return c.store.GrantGlobalPermission(ctx, UserGlobalPermission{UserID: userID, PermissionID: permissionID})
}

func (c *Core) RevokeGlobalPermission(ctx context.Context, userID, permissionID string) error {
	if err := requireIDs(userID, permissionID); err != nil {
		return err
	}
	return c.store.RevokeGlobalPermission(ctx, userID, permissionID)
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
		}
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// randomToken returns nBytes of cryptographic randomness, base64url encoded
// without padding.
func randomToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
