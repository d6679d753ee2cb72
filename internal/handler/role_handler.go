package handler

import (
	"net/http"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type RoleHandler struct {
	service service.RoleService
}

func NewRoleHandler(s service.RoleService) *RoleHandler {
	return &RoleHandler{service: s}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/api/roles")
	{
		roles.GET("", middleware.RequirePermission("roles.manage"), h.ListRoles)
		roles.GET("/permissions", middleware.RequirePermission("roles.manage"), h.ListPermissions)
		roles.PUT("/:id/permissions", middleware.RequirePermission("roles.manage"), h.UpdateRolePermissions)
	}
}

func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.service.ListRoles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "failed to fetch roles"))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.service.ListPermissions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "failed to fetch permissions"))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

func (h *RoleHandler) UpdateRolePermissions(c *gin.Context) {
	var req service.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.service.UpdateRolePermissions(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}
