package iam

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// memStore is an in-memory Store used by the package tests. Grant slices keep
// insertion order, matching the grant-creation ordering contract.
type memStore struct {
	seq int

	users       map[string]User
	services    map[string]Service
	roles       map[string]Role
	permissions map[string]Permission

	rolePerms    map[string][]string
	assignments  []ServiceAssignment
	serviceRoles []UserServiceRole
	servicePerms []UserServicePermission
	globalRoles  []UserGlobalRole
	globalPerms  []UserGlobalPermission
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]User),
		services:    make(map[string]Service),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		rolePerms:   make(map[string][]string),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// --- Point lookups ---

func (s *memStore) GetUser(_ context.Context, id string) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memStore) GetService(_ context.Context, id string) (Service, error) {
	svc, ok := s.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	return svc, nil
}

func (s *memStore) GetServiceByClientID(_ context.Context, clientID string) (Service, error) {
	for _, svc := range s.services {
		if svc.ClientID == clientID {
			return svc, nil
		}
	}
	return Service{}, ErrNotFound
}

func (s *memStore) GetRole(_ context.Context, id string) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *memStore) GetPermission(_ context.Context, id string) (Permission, error) {
	p, ok := s.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

// --- Resolver set lookups ---

func (s *memStore) DirectGlobalPermissions(_ context.Context, userID string) ([]Permission, error) {
	var out []Permission
	for _, g := range s.globalPerms {
		if g.UserID == userID {
			out = append(out, s.permissions[g.PermissionID])
		}
	}
	return out, nil
}

func (s *memStore) GlobalRoleGrants(_ context.Context, userID string) ([]Role, error) {
	var out []Role
	for _, g := range s.globalRoles {
		if g.UserID == userID {
			out = append(out, s.roles[g.RoleID])
		}
	}
	return out, nil
}

func (s *memStore) ServiceAssignments(_ context.Context, userID string) ([]ServiceAssignment, error) {
	var out []ServiceAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) DirectServicePermissions(_ context.Context, userID, serviceID string) ([]Permission, error) {
	var out []Permission
	for _, g := range s.servicePerms {
		if g.UserID == userID && g.ServiceID == serviceID {
			out = append(out, s.permissions[g.PermissionID])
		}
	}
	return out, nil
}

func (s *memStore) ServiceRoleGrants(_ context.Context, userID, serviceID string) ([]Role, error) {
	var out []Role
	for _, g := range s.serviceRoles {
		if g.UserID == userID && g.ServiceID == serviceID {
			out = append(out, s.roles[g.RoleID])
		}
	}
	return out, nil
}

func (s *memStore) RolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	var out []Permission
	for _, permID := range s.rolePerms[roleID] {
		out = append(out, s.permissions[permID])
	}
	return out, nil
}

// --- Services ---

func (s *memStore) CreateService(_ context.Context, svc Service) (Service, error) {
	for _, existing := range s.services {
		if existing.Name == svc.Name || existing.ClientID == svc.ClientID {
			return Service{}, ErrConflict
		}
	}
	if svc.ID == "" {
		svc.ID = s.nextID("svc")
	}
	svc.CreatedAt = time.Now().UTC()
	svc.UpdatedAt = svc.CreatedAt
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *memStore) UpdateService(_ context.Context, id string, upd ServiceUpdate) (Service, error) {
	svc, ok := s.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	if upd.Name != nil {
		svc.Name = *upd.Name
	}
	if upd.Description != nil {
		svc.Description = *upd.Description
	}
	if upd.Status != nil {
		svc.Status = *upd.Status
	}
	svc.UpdatedAt = time.Now().UTC()
	s.services[id] = svc
	return svc, nil
}

func (s *memStore) DeleteService(_ context.Context, id string) error {
	if _, ok := s.services[id]; !ok {
		return ErrNotFound
	}
	delete(s.services, id)
	// cascade, mirroring the FK behavior
	for permID, p := range s.permissions {
		if p.ServiceID == id {
			delete(s.permissions, permID)
		}
	}
	for roleID, r := range s.roles {
		if r.ServiceID == id {
			delete(s.roles, roleID)
			delete(s.rolePerms, roleID)
		}
	}
	s.assignments = filterAssignments(s.assignments, func(a ServiceAssignment) bool { return a.ServiceID != id })
	s.serviceRoles = filterServiceRoles(s.serviceRoles, func(g UserServiceRole) bool { return g.ServiceID != id })
	s.servicePerms = filterServicePerms(s.servicePerms, func(g UserServicePermission) bool { return g.ServiceID != id })
	return nil
}

func (s *memStore) ListServices(_ context.Context) ([]Service, error) {
	out := make([]Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out, nil
}

// --- Permissions ---

func (s *memStore) CreatePermission(_ context.Context, p Permission) (Permission, error) {
	for _, existing := range s.permissions {
		if existing.Code == p.Code && existing.ServiceID == p.ServiceID {
			return Permission{}, ErrConflict
		}
	}
	if p.ServiceID != "" {
		if _, ok := s.services[p.ServiceID]; !ok {
			return Permission{}, ErrNotFound
		}
	}
	if p.ID == "" {
		p.ID = s.nextID("perm")
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	s.permissions[p.ID] = p
	return p, nil
}

func (s *memStore) DeletePermission(_ context.Context, id string) error {
	if _, ok := s.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(s.permissions, id)
	for roleID, permIDs := range s.rolePerms {
		kept := permIDs[:0]
		for _, permID := range permIDs {
			if permID != id {
				kept = append(kept, permID)
			}
		}
		s.rolePerms[roleID] = kept
	}
	s.servicePerms = filterServicePerms(s.servicePerms, func(g UserServicePermission) bool { return g.PermissionID != id })
	s.globalPerms = filterGlobalPerms(s.globalPerms, func(g UserGlobalPermission) bool { return g.PermissionID != id })
	return nil
}

func (s *memStore) ListPermissions(_ context.Context, scope Scope, serviceID string) ([]Permission, error) {
	var out []Permission
	for _, p := range s.permissions {
		if p.Scope != scope {
			continue
		}
		if serviceID != "" && p.ServiceID != serviceID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// --- Roles ---

func (s *memStore) CreateRole(_ context.Context, r Role) (Role, error) {
	for _, existing := range s.roles {
		if existing.Name == r.Name && existing.ServiceID == r.ServiceID {
			return Role{}, ErrConflict
		}
	}
	if r.ServiceID != "" {
		if _, ok := s.services[r.ServiceID]; !ok {
			return Role{}, ErrNotFound
		}
	}
	if r.ID == "" {
		r.ID = s.nextID("role")
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	s.roles[r.ID] = r
	return r, nil
}

func (s *memStore) DeleteRole(_ context.Context, id string) error {
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	s.serviceRoles = filterServiceRoles(s.serviceRoles, func(g UserServiceRole) bool { return g.RoleID != id })
	s.globalRoles = filterGlobalRoles(s.globalRoles, func(g UserGlobalRole) bool { return g.RoleID != id })
	return nil
}

func (s *memStore) ListRoles(_ context.Context, serviceID string) ([]Role, error) {
	var out []Role
	for _, r := range s.roles {
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := s.permissions[permID]; !ok {
			return fmt.Errorf("%w: permission %s", ErrNotFound, permID)
		}
	}
	s.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

// --- Users ---

func (s *memStore) CreateUser(_ context.Context, u User) (User, error) {
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return User{}, ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = s.nextID("user")
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u, nil
}

func (s *memStore) UpdateUser(_ context.Context, id string, upd UserUpdate) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.IsStaff != nil {
		u.IsStaff = *upd.IsStaff
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *memStore) ListUsers(_ context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *memStore) DeactivateUser(_ context.Context, id, reason string, at time.Time) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Status = UserStatusInactive
	u.InactiveAt = &at
	u.InactiveReason = reason
	s.users[id] = u
	return u, nil
}

func (s *memStore) ReactivateUser(_ context.Context, id string) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Status = UserStatusActive
	u.InactiveAt = nil
	u.InactiveReason = ""
	s.users[id] = u
	return u, nil
}

func (s *memStore) MarkUserDeleted(_ context.Context, id string, at time.Time) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Status = UserStatusDeleted
	u.DeletedAt = &at
	s.users[id] = u
	return u, nil
}

// --- Grants ---

func (s *memStore) AssignService(_ context.Context, a ServiceAssignment) (ServiceAssignment, error) {
	if _, ok := s.users[a.UserID]; !ok {
		return ServiceAssignment{}, ErrNotFound
	}
	if _, ok := s.services[a.ServiceID]; !ok {
		return ServiceAssignment{}, ErrNotFound
	}
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.ServiceID == a.ServiceID {
			return ServiceAssignment{}, ErrConflict
		}
	}
	a.CreatedAt = time.Now().UTC()
	s.assignments = append(s.assignments, a)
	return a, nil
}

func (s *memStore) RemoveAssignment(_ context.Context, userID, serviceID string) error {
	before := len(s.assignments)
	s.assignments = filterAssignments(s.assignments, func(a ServiceAssignment) bool {
		return !(a.UserID == userID && a.ServiceID == serviceID)
	})
	if len(s.assignments) == before {
		return ErrNotFound
	}
	return nil
}

func (s *memStore) GrantServiceRole(_ context.Context, g UserServiceRole) error {
	for _, existing := range s.serviceRoles {
		if existing.UserID == g.UserID && existing.ServiceID == g.ServiceID && existing.RoleID == g.RoleID {
			return ErrConflict
		}
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		return ErrNotFound
	}
	g.CreatedAt = time.Now().UTC()
	s.serviceRoles = append(s.serviceRoles, g)
	return nil
}

func (s *memStore) RevokeServiceRole(_ context.Context, userID, serviceID, roleID string) error {
	before := len(s.serviceRoles)
	s.serviceRoles = filterServiceRoles(s.serviceRoles, func(g UserServiceRole) bool {
		return !(g.UserID == userID && g.ServiceID == serviceID && g.RoleID == roleID)
	})
	if len(s.serviceRoles) == before {
		return ErrNotFound
	}
	return nil
}

func (s *memStore) GrantServicePermission(_ context.Context, g UserServicePermission) error {
	for _, existing := range s.servicePerms {
		if existing.UserID == g.UserID && existing.ServiceID == g.ServiceID && existing.PermissionID == g.PermissionID {
			return ErrConflict
		}
	}
	if _, ok := s.permissions[g.PermissionID]; !ok {
		return ErrNotFound
	}
	g.CreatedAt = time.Now().UTC()
	s.servicePerms = append(s.servicePerms, g)
	return nil
}

func (s *memStore) RevokeServicePermission(_ context.Context, userID, serviceID, permissionID string) error {
	before := len(s.servicePerms)
	s.servicePerms = filterServicePerms(s.servicePerms, func(g UserServicePermission) bool {
		return !(g.UserID == userID && g.ServiceID == serviceID && g.PermissionID == permissionID)
	})
	if len(s.servicePerms) == before {
		return ErrNotFound
	}
	return nil
}

func (s *memStore) GrantGlobalRole(_ context.Context, g UserGlobalRole) error {
	for _, existing := range s.globalRoles {
		if existing.UserID == g.UserID && existing.RoleID == g.RoleID {
			return ErrConflict
		}
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		return ErrNotFound
	}
	g.CreatedAt = time.Now().UTC()
	s.globalRoles = append(s.globalRoles, g)
	return nil
}

func (s *memStore) RevokeGlobalRole(_ context.Context, userID, roleID string) error {
	before := len(s.globalRoles)
	s.globalRoles = filterGlobalRoles(s.globalRoles, func(g UserGlobalRole) bool {
		return !(g.UserID == userID && g.RoleID == roleID)
	})
	if len(s.globalRoles) == before {
		return ErrNotFound
	}
	return nil
}

func (s *memStore) GrantGlobalPermission(_ context.Context, g UserGlobalPermission) error {
	for _, existing := range s.globalPerms {
		if existing.UserID == g.UserID && existing.PermissionID == g.PermissionID {
			return ErrConflict
		}
	}
	if _, ok := s.permissions[g.PermissionID]; !ok {
		return ErrNotFound
	}
	g.CreatedAt = time.Now().UTC()
	s.globalPerms = append(s.globalPerms, g)
	return nil
}

func (s *memStore) RevokeGlobalPermission(_ context.Context, userID, permissionID string) error {
	before := len(s.globalPerms)
	s.globalPerms = filterGlobalPerms(s.globalPerms, func(g UserGlobalPermission) bool {
		return !(g.UserID == userID && g.PermissionID == permissionID)
	})
	if len(s.globalPerms) == before {
		return ErrNotFound
	}
	return nil
}

// --- filter helpers ---

func filterAssignments(in []ServiceAssignment, keep func(ServiceAssignment) bool) []ServiceAssignment {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterServiceRoles(in []UserServiceRole, keep func(UserServiceRole) bool) []UserServiceRole {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterServicePerms(in []UserServicePermission, keep func(UserServicePermission) bool) []UserServicePermission {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterGlobalRoles(in []UserGlobalRole, keep func(UserGlobalRole) bool) []UserGlobalRole {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterGlobalPerms(in []UserGlobalPermission, keep func(UserGlobalPermission) bool) []UserGlobalPermission {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// mustCreate helpers keep the fixtures terse.

func (s *memStore) mustUser(email string, opts ...func(*User)) User {
	u := User{Email: strings.ToLower(email), Status: UserStatusActive}
	for _, opt := range opts {
		opt(&u)
	}
	created, err := s.CreateUser(context.Background(), u)
	if err != nil {
		panic(err)
	}
	return created
}

func (s *memStore) mustService(name string) Service {
	svc, err := s.CreateService(context.Background(), Service{
		Name:     name,
		ClientID: "client-" + name,
		Status:   ServiceStatusActive,
	})
	if err != nil {
		panic(err)
	}
	return svc
}

func (s *memStore) mustGlobalPermission(code string) Permission {
	p, err := s.CreatePermission(context.Background(), Permission{Scope: ScopeGlobal, Code: code})
	if err != nil {
		panic(err)
	}
	return p
}

func (s *memStore) mustServicePermission(serviceID, code string) Permission {
	p, err := s.CreatePermission(context.Background(), Permission{Scope: ScopeService, ServiceID: serviceID, Code: code})
	if err != nil {
		panic(err)
	}
	return p
}

func (s *memStore) mustRole(serviceID, name string, permIDs ...string) Role {
	r, err := s.CreateRole(context.Background(), Role{ServiceID: serviceID, Name: name})
	if err != nil {
		panic(err)
	}
	if len(permIDs) > 0 {
		if err := s.SetRolePermissions(context.Background(), r.ID, permIDs); err != nil {
			panic(err)
		}
	}
	return r
}
