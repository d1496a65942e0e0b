package service

import (
	"context"
	"fmt"

	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
)

// AdminService handles admin business logic.
type AdminService struct {
	adminRepo *repository.AdminRepository
	roleRepo  *repository.RoleRepository
}

// NewAdminService creates a new AdminService.
func NewAdminService(adminRepo *repository.AdminRepository, roleRepo *repository.RoleRepository) *AdminService {
	return &AdminService{adminRepo: adminRepo, roleRepo: roleRepo}
}

// GetByEmail retrieves an admin by email.
func (s *AdminService) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return s.adminRepo.GetByEmail(ctx, email)
}

// GetByID retrieves an admin by ID.
func (s *AdminService) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return s.adminRepo.GetByID(ctx, id)
}

// GetPermissions retrieves permission codes for an admin's role.
func (s *AdminService) GetPermissions(ctx context.Context, roleID int) ([]string, error) {
	return s.roleRepo.GetPermissionsByRoleID(ctx, roleID)
}

// ListRoles returns every role with its permissions.
func (s *AdminService) ListRoles(ctx context.Context) ([]model.RoleWithPermissions, error) {
	return s.roleRepo.ListRoles(ctx)
}

// List returns a page of admins. Page and perPage are 1-based and
// default to 1 and 20.
func (s *AdminService) List(ctx context.Context, filter model.AdminFilter) ([]model.Admin, int, error) {
	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return s.adminRepo.List(ctx, filter.RoleID, perPage, (page-1)*perPage)
}

// Create creates a new admin.
func (s *AdminService) Create(ctx context.Context, admin *model.Admin) error {
	return s.adminRepo.Create(ctx, admin)
}

// SyncPermissions registers every permission the application knows about
// and grants all of them to roleID.
func (s *AdminService) SyncPermissions(ctx context.Context, roleID int) (int, error) {
	codes := model.PermissionCodes()
	added, err := s.roleRepo.SyncPermissions(ctx, codes)
	if err != nil {
		return 0, fmt.Errorf("sync permissions: %w", err)
	}
	if err := s.roleRepo.ReplaceRolePermissions(ctx, roleID, codes); err != nil {
		return 0, fmt.Errorf("grant permissions: %w", err)
	}
	return added, nil
}
