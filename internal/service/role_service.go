package service

import (
	"context"
	"fmt"

	"backoffice/internal/middleware"
	"backoffice/internal/model"

	"gorm.io/gorm"
)

// --- DTOs ---

type RoleResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsSystem    bool     `json:"is_system"`
	Permissions []string `json:"permissions"` // permission codes
}

type UpdateRolePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"` // permission codes
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (RoleResponse, error)
}

type roleService struct {
	db *gorm.DB
}

func NewRoleService(db *gorm.DB) RoleService {
	return &roleService{db: db}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	var roles []model.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").Order("name ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	result := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		result = append(result, toRoleResponse(r))
	}
	return result, nil
}

func (s *roleService) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	if err := s.db.WithContext(ctx).Order("\"group\" ASC, code ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}
	return perms, nil
}

func (s *roleService) UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (RoleResponse, error) {
	var role model.Role
	if err := s.db.WithContext(ctx).First(&role, "id = ?", roleID).Error; err != nil {
		return RoleResponse{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	var perms []model.Permission
	if err := s.db.WithContext(ctx).Where("code IN ?", req.Permissions).Find(&perms).Error; err != nil {
		return RoleResponse{}, fmt.Errorf("failed to load permissions: %w", err)
	}
	if len(perms) != len(req.Permissions) {
		return RoleResponse{}, fmt.Errorf("%w: one or more permission codes are unknown", ErrConflict)
	}

	if err := s.db.WithContext(ctx).Model(&role).Association("Permissions").Replace(perms); err != nil {
		return RoleResponse{}, fmt.Errorf("failed to update role permissions: %w", err)
	}

	// Permission checks are cached per role; drop the stale entry
	middleware.ClearPermissionCache(role.Name)

	role.Permissions = perms
	return toRoleResponse(role), nil
}

func toRoleResponse(r model.Role) RoleResponse {
	codes := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		codes = append(codes, p.Code)
	}
	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: codes,
	}
}
