package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"authgrid.org/internal/iam"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ iam.Store = (*Store)(nil)

const userColumns = `id, email, name, password_hash, status, inactive_at, inactive_reason, deleted_at, is_staff, created_at, updated_at`

const serviceColumns = `id, name, description, client_id, client_secret, status, created_at, updated_at`

// --- Point lookups ---

func (s *Store) GetUser(ctx context.Context, id string) (iam.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (iam.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) GetService(ctx context.Context, id string) (iam.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+serviceColumns+`
		from services
		where id = $1
	`, id)
	return scanService(row)
}

func (s *Store) GetServiceByClientID(ctx context.Context, clientID string) (iam.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+serviceColumns+`
		from services
		where client_id = $1
	`, clientID)
	return scanService(row)
}

func (s *Store) GetRole(ctx context.Context, id string) (iam.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, service_id, name, description, created_at, updated_at
		from roles
		where id = $1
	`, id)
	return scanRole(row)
}

func (s *Store) GetPermission(ctx context.Context, id string) (iam.Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, scope, service_id, code, description, created_at, updated_at
		from permissions
		where id = $1
	`, id)
	return scanPermission(row)
}

// --- Resolver set lookups ---

func (s *Store) DirectGlobalPermissions(ctx context.Context, userID string) ([]iam.Permission, error) {
	return s.queryPermissions(ctx, `
		select p.id, p.scope, p.service_id, p.code, p.description, p.created_at, p.updated_at
		from user_global_permissions ugp
		join permissions p on p.id = ugp.permission_id
		where ugp.user_id = $1
		order by ugp.created_at
	`, userID)
}

func (s *Store) GlobalRoleGrants(ctx context.Context, userID string) ([]iam.Role, error) {
	return s.queryRoles(ctx, `
		select r.id, r.service_id, r.name, r.description, r.created_at, r.updated_at
		from user_global_roles ugr
		join roles r on r.id = ugr.role_id
		where ugr.user_id = $1
		order by ugr.created_at
	`, userID)
}

func (s *Store) ServiceAssignments(ctx context.Context, userID string) ([]iam.ServiceAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, service_id, created_by, created_at
		from user_service_assignments
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []iam.ServiceAssignment
	for rows.Next() {
		var (
			a         iam.ServiceAssignment
			createdBy sql.NullString
		)
		if err := rows.Scan(&a.UserID, &a.ServiceID, &createdBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedBy = createdBy.String
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) DirectServicePermissions(ctx context.Context, userID, serviceID string) ([]iam.Permission, error) {
	return s.queryPermissions(ctx, `
		select p.id, p.scope, p.service_id, p.code, p.description, p.created_at, p.updated_at
		from user_service_permissions usp
		join permissions p on p.id = usp.permission_id
		where usp.user_id = $1 and usp.service_id = $2
		order by usp.created_at
	`, userID, serviceID)
}

func (s *Store) ServiceRoleGrants(ctx context.Context, userID, serviceID string) ([]iam.Role, error) {
	return s.queryRoles(ctx, `
		select r.id, r.service_id, r.name, r.description, r.created_at, r.updated_at
		from user_service_roles usr
		join roles r on r.id = usr.role_id
		where usr.user_id = $1 and usr.service_id = $2
		order by usr.created_at
	`, userID, serviceID)
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]iam.Permission, error) {
	return s.queryPermissions(ctx, `
		select p.id, p.scope, p.service_id, p.code, p.description, p.created_at, p.updated_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.code
	`, roleID)
}

// --- Services ---

func (s *Store) CreateService(ctx context.Context, svc iam.Service) (iam.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into services (id, name, description, client_id, client_secret, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+serviceColumns+`
	`, svc.ID, svc.Name, svc.Description, svc.ClientID, svc.ClientSecret, svc.Status)
	created, err := scanService(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.Service{}, iam.ErrConflict
		}
		return iam.Service{}, err
	}
	return created, nil
}

func (s *Store) UpdateService(ctx context.Context, id string, upd iam.ServiceUpdate) (iam.Service, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if upd.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if len(setClauses) == 0 {
		return s.GetService(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update services
		set %s
		where id = $%d
		returning %s
	`, strings.Join(setClauses, ", "), idx, serviceColumns), args...)
	svc, err := scanService(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.Service{}, iam.ErrConflict
		}
		return iam.Service{}, err
	}
	return svc, nil
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "services", id)
}

func (s *Store) ListServices(ctx context.Context) ([]iam.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+serviceColumns+`
		from services
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []iam.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, svc)
	}
	return result, rows.Err()
}

// --- Permissions ---

func (s *Store) CreatePermission(ctx context.Context, p iam.Permission) (iam.Permission, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, scope, service_id, code, description)
		values ($1, $2, $3, $4, $5)
		returning id, scope, service_id, code, description, created_at, updated_at
	`, p.ID, p.Scope, nullIfEmpty(p.ServiceID), p.Code, p.Description)
	created, err := scanPermission(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return iam.Permission{}, iam.ErrConflict
			case pgErrForeignKeyViolation:
				return iam.Permission{}, iam.ErrNotFound
			}
		}
		return iam.Permission{}, err
	}
	return created, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "permissions", id)
}

func (s *Store) ListPermissions(ctx context.Context, scope iam.Scope, serviceID string) ([]iam.Permission, error) {
	if scope == iam.ScopeService && serviceID != "" {
		return s.queryPermissions(ctx, `
			select id, scope, service_id, code, description, created_at, updated_at
			from permissions
			where scope = $1 and service_id = $2
			order by code
		`, scope, serviceID)
	}
	return s.queryPermissions(ctx, `
		select id, scope, service_id, code, description, created_at, updated_at
		from permissions
		where scope = $1
		order by code
	`, scope)
}

// --- Roles ---

func (s *Store) CreateRole(ctx context.Context, r iam.Role) (iam.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, service_id, name, description)
		values ($1, $2, $3, $4)
		returning id, service_id, name, description, created_at, updated_at
	`, r.ID, nullIfEmpty(r.ServiceID), r.Name, r.Description)
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return iam.Role{}, iam.ErrConflict
			case pgErrForeignKeyViolation:
				return iam.Role{}, iam.ErrNotFound
			}
		}
		return iam.Role{}, err
	}
	return created, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "roles", id)
}

func (s *Store) ListRoles(ctx context.Context, serviceID string) ([]iam.Role, error) {
	if serviceID != "" {
		return s.queryRoles(ctx, `
			select id, service_id, name, description, created_at, updated_at
			from roles
			where service_id = $1
			order by name
		`, serviceID)
	}
	return s.queryRoles(ctx, `
		select id, service_id, name, description, created_at, updated_at
		from roles
		where service_id is null
		order by name
	`)
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return iam.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", iam.ErrNotFound, permID)
			}
			return err
		}
	}
	return tx.Commit()
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u iam.User) (iam.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, status, is_staff)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns+`
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Status, u.IsStaff)
	created, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.User{}, iam.ErrConflict
		}
		return iam.User{}, err
	}
	return created, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd iam.UserUpdate) (iam.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Password != nil {
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if upd.IsStaff != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_staff = $%d", idx))
		args = append(args, *upd.IsStaff)
		idx++
	}
	if len(setClauses) == 0 {
		return s.GetUser(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update users
		set %s
		where id = $%d
		returning %s
	`, strings.Join(setClauses, ", "), idx, userColumns), args...)
	user, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.User{}, iam.ErrConflict
		}
		return iam.User{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]iam.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []iam.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func (s *Store) DeactivateUser(ctx context.Context, id, reason string, at time.Time) (iam.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set status = $1, inactive_at = $2, inactive_reason = $3, updated_at = now()
		where id = $4
		returning `+userColumns+`
	`, iam.UserStatusInactive, at, reason, id)
	return scanUser(row)
}

func (s *Store) ReactivateUser(ctx context.Context, id string) (iam.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set status = $1, inactive_at = null, inactive_reason = '', updated_at = now()
		where id = $2
		returning `+userColumns+`
	`, iam.UserStatusActive, id)
	return scanUser(row)
}

func (s *Store) MarkUserDeleted(ctx context.Context, id string, at time.Time) (iam.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set status = $1, deleted_at = $2, updated_at = now()
		where id = $3
		returning `+userColumns+`
	`, iam.UserStatusDeleted, at, id)
	return scanUser(row)
}

// --- Grants ---

func (s *Store) AssignService(ctx context.Context, a iam.ServiceAssignment) (iam.ServiceAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into user_service_assignments (user_id, service_id, created_by)
		values ($1, $2, $3)
		returning user_id, service_id, created_by, created_at
	`, a.UserID, a.ServiceID, nullIfEmpty(a.CreatedBy))
	var (
		out       iam.ServiceAssignment
		createdBy sql.NullString
	)
	if err := row.Scan(&out.UserID, &out.ServiceID, &createdBy, &out.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return iam.ServiceAssignment{}, iam.ErrConflict
			case pgErrForeignKeyViolation:
				return iam.ServiceAssignment{}, iam.ErrNotFound
			}
		}
		return iam.ServiceAssignment{}, err
	}
	out.CreatedBy = createdBy.String
	return out, nil
}

func (s *Store) RemoveAssignment(ctx context.Context, userID, serviceID string) error {
	return s.deleteGrant(ctx, `
		delete from user_service_assignments
		where user_id = $1 and service_id = $2
	`, userID, serviceID)
}

func (s *Store) GrantServiceRole(ctx context.Context, g iam.UserServiceRole) error {
	return s.insertGrant(ctx, `
		insert into user_service_roles (user_id, service_id, role_id)
		values ($1, $2, $3)
	`, g.UserID, g.ServiceID, g.RoleID)
}

func (s *Store) RevokeServiceRole(ctx context.Context, userID, serviceID, roleID string) error {
	return s.deleteGrant(ctx, `
		delete from user_service_roles
		where user_id = $1 and service_id = $2 and role_id = $3
	`, userID, serviceID, roleID)
}

func (s *Store) GrantServicePermission(ctx context.Context, g iam.UserServicePermission) error {
	return s.insertGrant(ctx, `
		insert into user_service_permissions (user_id, service_id, permission_id)
		values ($1, $2, $3)
	`, g.UserID, g.ServiceID, g.PermissionID)
}

func (s *Store) RevokeServicePermission(ctx context.Context, userID, serviceID, permissionID string) error {
	return s.deleteGrant(ctx, `
		delete from user_service_permissions
		where user_id = $1 and service_id = $2 and permission_id = $3
	`, userID, serviceID, permissionID)
}

func (s *Store) GrantGlobalRole(ctx context.Context, g iam.UserGlobalRole) error {
	return s.insertGrant(ctx, `
		insert into user_global_roles (user_id, role_id)
		values ($1, $2)
	`, g.UserID, g.RoleID)
}

func (s *Store) RevokeGlobalRole(ctx context.Context, userID, roleID string) error {
	return s.deleteGrant(ctx, `
		delete from user_global_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
}

func (s *Store) GrantGlobalPermission(ctx context.Context, g iam.UserGlobalPermission) error {
	return s.insertGrant(ctx, `
		insert into user_global_permissions (user_id, permission_id)
		values ($1, $2)
	`, g.UserID, g.PermissionID)
}

func (s *Store) RevokeGlobalPermission(ctx context.Context, userID, permissionID string) error {
	return s.deleteGrant(ctx, `
		delete from user_global_permissions
		where user_id = $1 and permission_id = $2
	`, userID, permissionID)
}

// --- helpers ---

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]iam.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []iam.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]iam.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []iam.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) insertGrant(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return iam.ErrConflict
			case pgErrForeignKeyViolation:
				return iam.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) deleteGrant(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return iam.ErrNotFound
	}
	return nil
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, table), id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return iam.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (iam.User, error) {
	var (
		u          iam.User
		inactiveAt sql.NullTime
		deletedAt  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Status,
		&inactiveAt, &u.InactiveReason, &deletedAt, &u.IsStaff, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return iam.User{}, iam.ErrNotFound
	}
	if err != nil {
		return iam.User{}, err
	}
	if inactiveAt.Valid {
		t := inactiveAt.Time
		u.InactiveAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}

func scanService(row rowScanner) (iam.Service, error) {
	var svc iam.Service
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.ClientID,
		&svc.ClientSecret, &svc.Status, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return iam.Service{}, iam.ErrNotFound
	}
	if err != nil {
		return iam.Service{}, err
	}
	return svc, nil
}

func scanRole(row rowScanner) (iam.Role, error) {
	var (
		r         iam.Role
		serviceID sql.NullString
	)
	err := row.Scan(&r.ID, &serviceID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return iam.Role{}, iam.ErrNotFound
	}
	if err != nil {
		return iam.Role{}, err
	}
	r.ServiceID = serviceID.String
	return r, nil
}

func scanPermission(row rowScanner) (iam.Permission, error) {
	var (
		p         iam.Permission
		serviceID sql.NullString
	)
	err := row.Scan(&p.ID, &p.Scope, &serviceID, &p.Code, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return iam.Permission{}, iam.ErrNotFound
	}
	if err != nil {
		return iam.Permission{}, err
	}
	p.ServiceID = serviceID.String
	return p, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
