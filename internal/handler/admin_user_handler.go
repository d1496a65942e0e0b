package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
	"github.com/stemsi/exchange-allocator/internal/validator"
)

// AdminAccounts manages staff accounts. AdminService satisfies it.
type AdminAccounts interface {
	List(ctx context.Context, filter model.AdminFilter) ([]model.Admin, int, error)
	Create(ctx context.Context, admin *model.Admin) error
	ListRoles(ctx context.Context) ([]model.RoleWithPermissions, error)
}

// PasswordHasher hashes new passwords. AuthService satisfies it.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type AdminUserHandler struct {
	admins AdminAccounts
	hasher PasswordHasher
}

func NewAdminUserHandler(admins AdminAccounts, hasher PasswordHasher) *AdminUserHandler {
	return &AdminUserHandler{admins: admins, hasher: hasher}
}

// ListAdmins godoc
// GET /api/v1/admin/users
func (h *AdminUserHandler) ListAdmins(c *gin.Context) {
	var filter model.AdminFilter
	if fields := validator.BindQuery(c, &filter); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	admins, total, err := h.admins.List(c.Request.Context(), filter)
	if err != nil {
		failFromError(c, err)
		return
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"admins": admins}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	})
}

// CreateAdmin godoc
// POST /api/v1/admin/users
func (h *AdminUserHandler) CreateAdmin(c *gin.Context) {
	var req model.CreateAdminRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	hash, err := h.hasher.HashPassword(req.Password)
	if err != nil {
		failFromError(c, err)
		return
	}

	admin := &model.Admin{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		RoleID:       req.RoleID,
	}
	if err := h.admins.Create(c.Request.Context(), admin); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"admin": admin})
}

// GetRoles godoc
// GET /api/v1/admin/roles
func (h *AdminUserHandler) GetRoles(c *gin.Context) {
	roles, err := h.admins.ListRoles(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"roles": roles})
}
