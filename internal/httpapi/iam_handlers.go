package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/iam"
)

type createServiceRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type updateServiceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required"`
	Description string `json:"description"`
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type setRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	IsStaff  bool   `json:"is_staff"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	Password *string `json:"password"`
	IsStaff  *bool   `json:"is_staff"`
}

type deactivateUserRequest struct {
	Reason string `json:"reason"`
}

type assignServiceRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
}

type grantRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

type grantPermissionRequest struct {
	PermissionID string `json:"permission_id" validate:"required"`
}

// createdServiceResponse carries the plaintext client secret exactly once, at
// creation time. It is never readable again.
type createdServiceResponse struct {
	Service      iam.Service `json:"service"`
	ClientSecret string      `json:"client_secret"`
}

// --- /v1/services ---

func (a *API) handleServicesCollection(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		services, err := a.core.ListServices(r.Context())
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": services})
	case http.MethodPost:
		var req createServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		svc, secret, err := a.core.CreateService(r.Context(), req.Name, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.service.create", "service", svc.ID, map[string]string{
			"name": svc.Name,
		})
		w.Header().Set("Location", "/v1/services/"+svc.ID)
		writeJSON(w, http.StatusCreated, createdServiceResponse{Service: svc, ClientSecret: secret})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleServiceResource(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/services/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	serviceID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleService(w, r, serviceID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleServicePermissions(w, r, serviceID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleServiceRoles(w, r, serviceID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleService(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		svc, err := a.core.GetService(r.Context(), serviceID)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	case http.MethodPatch:
		var req updateServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		svc, err := a.core.UpdateService(r.Context(), serviceID, iam.ServiceUpdate{
			Name:        req.Name,
			Description: req.Description,
			Status:      req.Status,
		})
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.service.update", "service", svc.ID, nil)
		writeJSON(w, http.StatusOK, svc)
	case http.MethodDelete:
		if err := a.core.DeleteService(r.Context(), serviceID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.service.delete", "service", serviceID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleServicePermissions(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.core.ListPermissions(r.Context(), iam.ScopeService, serviceID)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPost:
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "code is required")
			return
		}
		perm, err := a.core.CreateServicePermission(r.Context(), serviceID, req.Code, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.permission.create", "permission", perm.ID, map[string]string{
			"service_id": serviceID,
			"code":       perm.Code,
		})
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleServiceRoles(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.core.ListRoles(r.Context(), serviceID)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		role, err := a.core.CreateRole(r.Context(), serviceID, req.Name, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.create", "role", role.ID, map[string]string{
			"service_id": serviceID,
			"name":       role.Name,
		})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// --- /v1/permissions (global namespace) ---

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, err := a.core.ListPermissions(r.Context(), iam.ScopeGlobal, "")
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPost:
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "code is required")
			return
		}
		perm, err := a.core.CreateGlobalPermission(r.Context(), req.Code, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.permission.create", "permission", perm.ID, map[string]string{
			"code": perm.Code,
		})
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	permissionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if permissionID == "" || strings.Contains(permissionID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.core.DeletePermission(r.Context(), permissionID); err != nil {
		handleIAMError(w, r, err)
		return
	}
	a.audit(r.Context(), "iam.permission.delete", "permission", permissionID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- /v1/roles (global namespace) ---

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := a.core.ListRoles(r.Context(), "")
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		role, err := a.core.CreateRole(r.Context(), "", req.Name, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.create", "role", role.ID, map[string]string{
			"name": role.Name,
		})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			role, err := a.core.GetRole(r.Context(), roleID)
			if err != nil {
				handleIAMError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, role)
		case http.MethodDelete:
			if err := a.core.DeleteRole(r.Context(), roleID); err != nil {
				handleIAMError(w, r, err)
				return
			}
			a.audit(r.Context(), "iam.role.delete", "role", roleID, nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.core.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.permissions.set", "role", roleID, map[string]string{
			"count": fmt.Sprintf("%d", len(req.PermissionIDs)),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- /v1/users ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		users, err := a.core.ListUsers(r.Context())
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "valid email is required")
			return
		}
		user, err := a.core.CreateUser(r.Context(), req.Email, req.Name, req.Password, req.IsStaff)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.user.create", "user", user.ID, map[string]string{
			"email": user.Email,
		})
		w.Header().Set("Location", "/v1/users/"+user.ID)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.handleUserDeactivate(w, r, userID)
	case len(parts) == 2 && parts[1] == "reactivate":
		a.handleUserReactivate(w, r, userID)
	case len(parts) == 2 && parts[1] == "claims":
		a.handleUserClaims(w, r, userID)
	case parts[1] == "services":
		a.handleUserServices(w, r, userID, parts[2:])
	case len(parts) <= 3 && parts[1] == "roles":
		a.handleUserGlobalRoles(w, r, userID, parts[2:])
	case len(parts) <= 3 && parts[1] == "permissions":
		a.handleUserGlobalPermissions(w, r, userID, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		user, err := a.core.GetUser(r.Context(), userID)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.core.UpdateUser(r.Context(), userID, iam.UserUpdate{
			Email:    req.Email,
			Name:     req.Name,
			Password: req.Password,
			IsStaff:  req.IsStaff,
		})
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.user.update", "user", user.ID, nil)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		user, err := a.core.DeleteUser(r.Context(), userID)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.user.delete", "user", user.ID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUserDeactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req deactivateUserRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	user, err := a.core.DeactivateUser(r.Context(), userID, req.Reason)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	a.audit(r.Context(), "iam.user.deactivate", "user", user.ID, map[string]string{
		"reason": req.Reason,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserReactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, err := a.core.ReactivateUser(r.Context(), userID)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	a.audit(r.Context(), "iam.user.reactivate", "user", user.ID, nil)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserClaims(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := a.core.GetUser(r.Context(), userID); err != nil {
		handleIAMError(w, r, err)
		return
	}
	claims, err := a.core.Resolve(r.Context(), userID)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// handleUserServices covers the assignment subtree:
//
//	POST   /v1/users/{id}/services
//	DELETE /v1/users/{id}/services/{service_id}
//	POST   /v1/users/{id}/services/{service_id}/roles
//	DELETE /v1/users/{id}/services/{service_id}/roles/{role_id}
//	POST   /v1/users/{id}/services/{service_id}/permissions
//	DELETE /v1/users/{id}/services/{service_id}/permissions/{permission_id}
func (a *API) handleUserServices(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req assignServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "service_id is required")
			return
		}
		createdBy, _ := iam.UserIDFromContext(r.Context())
		assignment, err := a.core.AssignService(r.Context(), userID, req.ServiceID, createdBy)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.assignment.create", "user", userID, map[string]string{
			"service_id": assignment.ServiceID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	case len(rest) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.core.RemoveAssignment(r.Context(), userID, rest[0]); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.assignment.remove", "user", userID, map[string]string{
			"service_id": rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	case rest[1] == "roles":
		a.handleUserServiceRoles(w, r, userID, rest[0], rest[2:])
	case rest[1] == "permissions":
		a.handleUserServicePermissions(w, r, userID, rest[0], rest[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserServiceRoles(w http.ResponseWriter, r *http.Request, userID, serviceID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req grantRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		if err := a.core.GrantServiceRole(r.Context(), userID, serviceID, req.RoleID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.grant.service_role", "user", userID, map[string]string{
			"service_id": serviceID,
			"role_id":    req.RoleID,
		})
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0:
		methodNotAllowed(w, r, http.MethodPost)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := a.core.RevokeServiceRole(r.Context(), userID, serviceID, rest[0]); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.revoke.service_role", "user", userID, map[string]string{
			"service_id": serviceID,
			"role_id":    rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 1:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserServicePermissions(w http.ResponseWriter, r *http.Request, userID, serviceID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "permission_id is required")
			return
		}
		if err := a.core.GrantServicePermission(r.Context(), userID, serviceID, req.PermissionID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.grant.service_permission", "user", userID, map[string]string{
			"service_id":    serviceID,
			"permission_id": req.PermissionID,
		})
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0:
		methodNotAllowed(w, r, http.MethodPost)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := a.core.RevokeServicePermission(r.Context(), userID, serviceID, rest[0]); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.revoke.service_permission", "user", userID, map[string]string{
			"service_id":    serviceID,
			"permission_id": rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 1:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserGlobalRoles(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req grantRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		if err := a.core.GrantGlobalRole(r.Context(), userID, req.RoleID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.grant.global_role", "user", userID, map[string]string{
			"role_id": req.RoleID,
		})
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0:
		methodNotAllowed(w, r, http.MethodPost)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := a.core.RevokeGlobalRole(r.Context(), userID, rest[0]); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.revoke.global_role", "user", userID, map[string]string{
			"role_id": rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 1:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserGlobalPermissions(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "permission_id is required")
			return
		}
		if err := a.core.GrantGlobalPermission(r.Context(), userID, req.PermissionID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.grant.global_permission", "user", userID, map[string]string{
			"permission_id": req.PermissionID,
		})
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0:
		methodNotAllowed(w, r, http.MethodPost)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := a.core.RevokeGlobalPermission(r.Context(), userID, rest[0]); err != nil {
			handleIAMError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.revoke.global_permission", "user", userID, map[string]string{
			"permission_id": rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 1:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) audit(ctx context.Context, event, targetType, targetID string, meta map[string]string) {
	fields := map[string]any{
		"target_type": targetType,
		"target_id":   targetID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
