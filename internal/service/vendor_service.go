package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

type VendorDTO struct {
	Name          string `json:"name" binding:"required"`
	TaxCode       string `json:"tax_code"`
	CompanyName   string `json:"company_name"`
	BankAccount   string `json:"bank_account"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email" binding:"omitempty,email"`
	Address       string `json:"address"`
}

type VendorResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TaxCode       string `json:"tax_code"`
	CompanyName   string `json:"company_name"`
	BankAccount   string `json:"bank_account"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Address       string `json:"address"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
}

// --- Interface ---

type VendorService interface {
	CreateVendor(ctx context.Context, userID *uuid.UUID, req VendorDTO) (VendorResponse, error)
	GetVendor(ctx context.Context, id string) (VendorResponse, error)
	ListVendors(ctx context.Context, search string, page, limit int) ([]VendorResponse, int64, error)
	UpdateVendor(ctx context.Context, userID *uuid.UUID, id string, req VendorDTO) (VendorResponse, error)
	DeleteVendor(ctx context.Context, userID *uuid.UUID, id string) error
}

type vendorService struct {
	db *gorm.DB
}

func NewVendorService(db *gorm.DB) VendorService {
	return &vendorService{db: db}
}

// --- Implementation ---

func (s *vendorService) CreateVendor(ctx context.Context, userID *uuid.UUID, req VendorDTO) (VendorResponse, error) {
	vendor := model.Vendor{
		Name:          req.Name,
		TaxCode:       req.TaxCode,
		CompanyName:   req.CompanyName,
		BankAccount:   req.BankAccount,
		ContactPerson: req.ContactPerson,
		Phone:         req.Phone,
		Email:         req.Email,
		Address:       req.Address,
		IsActive:      true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if createErr := tx.Create(&vendor).Error; createErr != nil {
			return fmt.Errorf("failed to create vendor: %w", createErr)
		}
		return s.auditVendor(tx, userID, model.ActionCreateVendor, &vendor)
	})
	if err != nil {
		return VendorResponse{}, err
	}

	return toVendorResponse(vendor), nil
}

func (s *vendorService) GetVendor(ctx context.Context, id string) (VendorResponse, error) {
	var vendor model.Vendor
	if err := s.db.WithContext(ctx).First(&vendor, "id = ?", id).Error; err != nil {
		return VendorResponse{}, fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}
	return toVendorResponse(vendor), nil
}

func (s *vendorService) ListVendors(ctx context.Context, search string, page, limit int) ([]VendorResponse, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Vendor{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR company_name LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count vendors: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	var vendors []model.Vendor
	if err := query.Order("name ASC").Offset((page - 1) * limit).Limit(limit).Find(&vendors).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch vendors: %w", err)
	}

	result := make([]VendorResponse, 0, len(vendors))
	for _, v := range vendors {
		result = append(result, toVendorResponse(v))
	}

	return result, total, nil
}

func (s *vendorService) UpdateVendor(ctx context.Context, userID *uuid.UUID, id string, req VendorDTO) (VendorResponse, error) {
	var vendor model.Vendor
	if err := s.db.WithContext(ctx).First(&vendor, "id = ?", id).Error; err != nil {
		return VendorResponse{}, fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}

	vendor.Name = req.Name
	vendor.TaxCode = req.TaxCode
	vendor.CompanyName = req.CompanyName
	vendor.BankAccount = req.BankAccount
	vendor.ContactPerson = req.ContactPerson
	vendor.Phone = req.Phone
	vendor.Email = req.Email
	vendor.Address = req.Address

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if saveErr := tx.Save(&vendor).Error; saveErr != nil {
			return fmt.Errorf("failed to update vendor: %w", saveErr)
		}
		return s.auditVendor(tx, userID, model.ActionUpdateVendor, &vendor)
	})
	if err != nil {
		return VendorResponse{}, err
	}

	return toVendorResponse(vendor), nil
}

func (s *vendorService) DeleteVendor(ctx context.Context, userID *uuid.UUID, id string) error {
	var vendor model.Vendor
	if err := s.db.WithContext(ctx).First(&vendor, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}

	var inUse int64
	if err := s.db.WithContext(ctx).Model(&model.Request{}).Where("vendor_id = ?", vendor.ID).Count(&inUse).Error; err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("%w: vendor has purchase orders and cannot be deleted", ErrConflict)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if delErr := tx.Delete(&vendor).Error; delErr != nil {
			return fmt.Errorf("failed to delete vendor: %w", delErr)
		}
		return s.auditVendor(tx, userID, model.ActionDeleteVendor, &vendor)
	})
}

// --- Helpers ---

func (s *vendorService) auditVendor(tx *gorm.DB, userID *uuid.UUID, action string, vendor *model.Vendor) error {
	details, _ := json.Marshal(map[string]interface{}{"name": vendor.Name})
	entry := model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   vendor.ID.String(),
		EntityName: vendor.Name,
		Details:    string(details),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func toVendorResponse(v model.Vendor) VendorResponse {
	return VendorResponse{
		ID:            v.ID.String(),
		Name:          v.Name,
		TaxCode:       v.TaxCode,
		CompanyName:   v.CompanyName,
		BankAccount:   v.BankAccount,
		ContactPerson: v.ContactPerson,
		Phone:         v.Phone,
		Email:         v.Email,
		Address:       v.Address,
		IsActive:      v.IsActive,
		CreatedAt:     v.CreatedAt.Format(time.RFC3339),
	}
}
