package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest    = "CREATE_REQUEST"
	ActionSendRequest      = "SEND_REQUEST"
	ActionReviewRequest    = "REVIEW_REQUEST"
	ActionApproveRequest   = "APPROVE_REQUEST"
	ActionRejectRequest    = "REJECT_REQUEST"
	ActionClaimApprover    = "CLAIM_APPROVER_SLOT"
	ActionDeleteRequest    = "DELETE_REQUEST"
	ActionUploadAttachment = "UPLOAD_ATTACHMENT"
	ActionGenerateDocument = "GENERATE_DOCUMENT"

	ActionCreateVendor = "CREATE_VENDOR"
	ActionUpdateVendor = "UPDATE_VENDOR"
	ActionDeleteVendor = "DELETE_VENDOR"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated bot
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
