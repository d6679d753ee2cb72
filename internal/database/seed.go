package database

import (
	"fmt"

	"backoffice/internal/model"
	"backoffice/internal/workflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultPermissions lists every permission code the handlers gate on
var defaultPermissions = []model.Permission{
	{Code: "requests.read", Name: "View requests", Group: "requests"},
	{Code: "requests.write", Name: "Create and edit requests", Group: "requests"},
	{Code: "requests.review", Name: "Review pending requests", Group: "requests"},
	{Code: "requests.approve", Name: "Approve reviewed requests", Group: "requests"},
	{Code: "requests.delete", Name: "Delete draft/rejected requests", Group: "requests"},
	{Code: "users.read", Name: "View users", Group: "users"},
	{Code: "users.write", Name: "Create and edit users", Group: "users"},
	{Code: "users.delete", Name: "Delete users", Group: "users"},
	{Code: "vendors.read", Name: "View vendors", Group: "vendors"},
	{Code: "vendors.write", Name: "Create and edit vendors", Group: "vendors"},
	{Code: "audit.read", Name: "View audit trail", Group: "audit"},
	{Code: "roles.manage", Name: "Manage roles and permissions", Group: "roles"},
}

// rolePermissions maps the built-in roles to their permission codes
var rolePermissions = map[workflow.Role][]string{
	workflow.RoleSuperAdmin: {
		"requests.read", "requests.write", "requests.review", "requests.approve", "requests.delete",
		"users.read", "users.write", "users.delete",
		"vendors.read", "vendors.write", "audit.read", "roles.manage",
	},
	workflow.RoleAdmin: {
		"requests.read", "requests.write", "requests.approve", "requests.delete",
		"users.read", "users.write",
		"vendors.read", "vendors.write", "audit.read",
	},
	workflow.RoleReviewer: {
		"requests.read", "requests.write", "requests.review",
		"vendors.read",
	},
	workflow.RoleStaff: {
		"requests.read", "requests.write",
		"vendors.read",
	},
}

// SeedRoles ensures the built-in roles and their permission sets exist.
// Idempotent, safe to run on every startup.
func SeedRoles(db *gorm.DB) error {
	for i := range defaultPermissions {
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&defaultPermissions[i]).Error; err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", defaultPermissions[i].Code, err)
		}
	}

	for roleName, codes := range rolePermissions {
		var role model.Role
		err := db.Where("name = ?", string(roleName)).First(&role).Error
		if err == gorm.ErrRecordNotFound {
			role = model.Role{Name: string(roleName), IsSystem: true}
			if err := db.Create(&role).Error; err != nil {
				return fmt.Errorf("failed to seed role %s: %w", roleName, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to look up role %s: %w", roleName, err)
		}

		var perms []model.Permission
		if err := db.Where("code IN ?", codes).Find(&perms).Error; err != nil {
			return fmt.Errorf("failed to load permissions for role %s: %w", roleName, err)
		}
		if err := db.Model(&role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("failed to assign permissions to role %s: %w", roleName, err)
		}
	}

	return nil
}
