package handler

import (
	"net/http"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type VendorHandler struct {
	service service.VendorService
}

func NewVendorHandler(s service.VendorService) *VendorHandler {
	return &VendorHandler{service: s}
}

func (h *VendorHandler) RegisterRoutes(router *gin.RouterGroup) {
	vendors := router.Group("/api/vendors")
	{
		vendors.GET("", middleware.RequirePermission("vendors.read"), h.ListVendors)
		vendors.POST("", middleware.RequirePermission("vendors.write"), h.CreateVendor)
		vendors.GET("/:id", middleware.RequirePermission("vendors.read"), h.GetVendor)
		vendors.PUT("/:id", middleware.RequirePermission("vendors.write"), h.UpdateVendor)
		vendors.DELETE("/:id", middleware.RequirePermission("vendors.write"), h.DeleteVendor)
	}
}

func (h *VendorHandler) ListVendors(c *gin.Context) {
	params := pagination.Parse(c)

	vendors, total, err := h.service.ListVendors(c.Request.Context(), c.Query("search"), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "failed to fetch vendors"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": http.StatusOK,
		"data":   vendors,
		"total":  total,
		"page":   params.Page,
		"limit":  params.Limit,
	})
}

func (h *VendorHandler) CreateVendor(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
		return
	}

	var req service.VendorDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	vendor, err := h.service.CreateVendor(c.Request.Context(), &actor.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, vendor))
}

func (h *VendorHandler) GetVendor(c *gin.Context) {
	vendor, err := h.service.GetVendor(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, vendor))
}

func (h *VendorHandler) UpdateVendor(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
		return
	}

	var req service.VendorDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	vendor, err := h.service.UpdateVendor(c.Request.Context(), &actor.ID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, vendor))
}

func (h *VendorHandler) DeleteVendor(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
		return
	}

	if err := h.service.DeleteVendor(c.Request.Context(), &actor.ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}
