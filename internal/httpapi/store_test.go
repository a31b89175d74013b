package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"authgrid.org/internal/iam"
)

// testStore is a minimal in-memory iam.Store for exercising the HTTP surface.
// It keeps grant rows in insertion order, mirroring the SQL store's contract.
type testStore struct {
	mu  sync.Mutex
	seq int

	users    map[string]iam.User
	services map[string]iam.Service
	roles    map[string]iam.Role
	perms    map[string]iam.Permission

	rolePerms    map[string][]string
	assignments  []iam.ServiceAssignment
	globalRoles  []iam.UserGlobalRole
	globalPerms  []iam.UserGlobalPermission
	serviceRoles []iam.UserServiceRole
	servicePerms []iam.UserServicePermission
}

var _ iam.Store = (*testStore)(nil)

func newTestStore() *testStore {
	return &testStore{
		users:     make(map[string]iam.User),
		services:  make(map[string]iam.Service),
		roles:     make(map[string]iam.Role),
		perms:     make(map[string]iam.Permission),
		rolePerms: make(map[string][]string),
	}
}

func (s *testStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *testStore) GetUser(_ context.Context, id string) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return iam.User{}, iam.ErrNotFound
	}
	return u, nil
}

func (s *testStore) GetUserByEmail(_ context.Context, email string) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return iam.User{}, iam.ErrNotFound
}

func (s *testStore) GetService(_ context.Context, id string) (iam.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return iam.Service{}, iam.ErrNotFound
	}
	return svc, nil
}

func (s *testStore) GetServiceByClientID(_ context.Context, clientID string) (iam.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.ClientID == clientID {
			return svc, nil
		}
	}
	return iam.Service{}, iam.ErrNotFound
}

func (s *testStore) GetRole(_ context.Context, id string) (iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return iam.Role{}, iam.ErrNotFound
	}
	return r, nil
}

func (s *testStore) GetPermission(_ context.Context, id string) (iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return iam.Permission{}, iam.ErrNotFound
	}
	return p, nil
}

func (s *testStore) DirectGlobalPermissions(_ context.Context, userID string) ([]iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Permission
	for _, g := range s.globalPerms {
		if g.UserID == userID {
			out = append(out, s.perms[g.PermissionID])
		}
	}
	return out, nil
}

func (s *testStore) GlobalRoleGrants(_ context.Context, userID string) ([]iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Role
	for _, g := range s.globalRoles {
		if g.UserID == userID {
			out = append(out, s.roles[g.RoleID])
		}
	}
	return out, nil
}

func (s *testStore) ServiceAssignments(_ context.Context, userID string) ([]iam.ServiceAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.ServiceAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *testStore) DirectServicePermissions(_ context.Context, userID, serviceID string) ([]iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Permission
	for _, g := range s.servicePerms {
		if g.UserID == userID && g.ServiceID == serviceID {
			out = append(out, s.perms[g.PermissionID])
		}
	}
	return out, nil
}

func (s *testStore) ServiceRoleGrants(_ context.Context, userID, serviceID string) ([]iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Role
	for _, g := range s.serviceRoles {
		if g.UserID == userID && g.ServiceID == serviceID {
			out = append(out, s.roles[g.RoleID])
		}
	}
	return out, nil
}

func (s *testStore) RolePermissions(_ context.Context, roleID string) ([]iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Permission
	for _, permID := range s.rolePerms[roleID] {
		out = append(out, s.perms[permID])
	}
	return out, nil
}

func (s *testStore) CreateService(_ context.Context, svc iam.Service) (iam.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.services {
		if existing.Name == svc.Name {
			return iam.Service{}, iam.ErrConflict
		}
	}
	svc.ID = s.nextID("svc")
	svc.CreatedAt = time.Now().UTC()
	svc.UpdatedAt = svc.CreatedAt
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *testStore) UpdateService(_ context.Context, id string, upd iam.ServiceUpdate) (iam.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return iam.Service{}, iam.ErrNotFound
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

func (s *testStore) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[id]; !ok {
		return iam.ErrNotFound
	}
	delete(s.services, id)
	return nil
}

func (s *testStore) ListServices(_ context.Context) ([]iam.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Service
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out, nil
}

func (s *testStore) CreatePermission(_ context.Context, p iam.Permission) (iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.perms {
		if existing.Code == p.Code && existing.ServiceID == p.ServiceID {
			return iam.Permission{}, iam.ErrConflict
		}
	}
	p.ID = s.nextID("perm")
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	s.perms[p.ID] = p
	return p, nil
}

func (s *testStore) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return iam.ErrNotFound
	}
	delete(s.perms, id)
	return nil
}

func (s *testStore) ListPermissions(_ context.Context, scope iam.Scope, serviceID string) ([]iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Permission
	for _, p := range s.perms {
		if p.Scope != scope {
			continue
		}
		if scope == iam.ScopeService && serviceID != "" && p.ServiceID != serviceID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *testStore) CreateRole(_ context.Context, r iam.Role) (iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == r.Name && existing.ServiceID == r.ServiceID {
			return iam.Role{}, iam.ErrConflict
		}
	}
	r.ID = s.nextID("role")
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	s.roles[r.ID] = r
	return r, nil
}

func (s *testStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return iam.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	return nil
}

func (s *testStore) ListRoles(_ context.Context, serviceID string) ([]iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.Role
	for _, r := range s.roles {
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *testStore) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return iam.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := s.perms[permID]; !ok {
			return iam.ErrNotFound
		}
	}
	s.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (s *testStore) CreateUser(_ context.Context, u iam.User) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return iam.User{}, iam.ErrConflict
		}
	}
	u.ID = s.nextID("usr")
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u, nil
}

func (s *testStore) UpdateUser(_ context.Context, id string, upd iam.UserUpdate) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return iam.User{}, iam.ErrNotFound
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

func (s *testStore) ListUsers(_ context.Context) ([]iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []iam.User
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *testStore) DeactivateUser(_ context.Context, id, reason string, at time.Time) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return iam.User{}, iam.ErrNotFound
	}
	u.Status = iam.UserStatusInactive
	u.InactiveAt = &at
	u.InactiveReason = reason
	s.users[id] = u
	return u, nil
}

func (s *testStore) ReactivateUser(_ context.Context, id string) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return iam.User{}, iam.ErrNotFound
	}
	u.Status = iam.UserStatusActive
	u.InactiveAt = nil
	u.InactiveReason = ""
	s.users[id] = u
	return u, nil
}

func (s *testStore) MarkUserDeleted(_ context.Context, id string, at time.Time) (iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return iam.User{}, iam.ErrNotFound
	}
	u.Status = iam.UserStatusDeleted
	u.DeletedAt = &at
	s.users[id] = u
	return u, nil
}

func (s *testStore) AssignService(_ context.Context, a iam.ServiceAssignment) (iam.ServiceAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return iam.ServiceAssignment{}, iam.ErrNotFound
	}
	if _, ok := s.services[a.ServiceID]; !ok {
		return iam.ServiceAssignment{}, iam.ErrNotFound
	}
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.ServiceID == a.ServiceID {
			return iam.ServiceAssignment{}, iam.ErrConflict
		}
	}
	a.CreatedAt = time.Now().UTC()
	s.assignments = append(s.assignments, a)
	return a, nil
}

func (s *testStore) RemoveAssignment(_ context.Context, userID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.ServiceID == serviceID {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}

func (s *testStore) GrantServiceRole(_ context.Context, g iam.UserServiceRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.serviceRoles {
		if existing == g {
			return iam.ErrConflict
		}
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		return iam.ErrNotFound
	}
	s.serviceRoles = append(s.serviceRoles, g)
	return nil
}

func (s *testStore) RevokeServiceRole(_ context.Context, userID, serviceID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.serviceRoles {
		if g.UserID == userID && g.ServiceID == serviceID && g.RoleID == roleID {
			s.serviceRoles = append(s.serviceRoles[:i], s.serviceRoles[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}

func (s *testStore) GrantServicePermission(_ context.Context, g iam.UserServicePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.servicePerms {
		if existing == g {
			return iam.ErrConflict
		}
	}
	if _, ok := s.perms[g.PermissionID]; !ok {
		return iam.ErrNotFound
	}
	s.servicePerms = append(s.servicePerms, g)
	return nil
}

func (s *testStore) RevokeServicePermission(_ context.Context, userID, serviceID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.servicePerms {
		if g.UserID == userID && g.ServiceID == serviceID && g.PermissionID == permissionID {
			s.servicePerms = append(s.servicePerms[:i], s.servicePerms[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}

func (s *testStore) GrantGlobalRole(_ context.Context, g iam.UserGlobalRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.globalRoles {
		if existing.UserID == g.UserID && existing.RoleID == g.RoleID {
			return iam.ErrConflict
		}
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		return iam.ErrNotFound
	}
	s.globalRoles = append(s.globalRoles, g)
	return nil
}

func (s *testStore) RevokeGlobalRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.globalRoles {
		if g.UserID == userID && g.RoleID == roleID {
			s.globalRoles = append(s.globalRoles[:i], s.globalRoles[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}

func (s *testStore) GrantGlobalPermission(_ context.Context, g iam.UserGlobalPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.globalPerms {
		if existing.UserID == g.UserID && existing.PermissionID == g.PermissionID {
			return iam.ErrConflict
		}
	}
	if _, ok := s.perms[g.PermissionID]; !ok {
		return iam.ErrNotFound
	}
	s.globalPerms = append(s.globalPerms, g)
	return nil
}

func (s *testStore) RevokeGlobalPermission(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.globalPerms {
		if g.UserID == userID && g.PermissionID == permissionID {
			s.globalPerms = append(s.globalPerms[:i], s.globalPerms[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}
