package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request is the shared shape of every workflow-bearing record: expense
// claims, travel requests, payment requests, payment vouchers and purchase
// orders. Kind-specific fields ride along as an opaque JSON payload; the
// workflow engine only cares about status and the three user slots.
//
// ReviewedBy is set exactly once, by the pending -> reviewed edge.
// ApprovedBy is set exactly once, by the approving edge or an explicit
// approver-slot claim. Neither is ever cleared or reassigned.
type Request struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind   string    `gorm:"type:varchar(30);not null;index" json:"kind"`
	Code   string    `gorm:"type:varchar(30);uniqueIndex;not null" json:"code"` // Business code, e.g. PO-20260831-00001
	Status string    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`

	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Currency    string          `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"total_amount"`
	Details     string          `gorm:"type:jsonb" json:"details"` // Kind-specific payload snapshot

	VendorID *uuid.UUID `gorm:"type:uuid;index" json:"vendor_id"` // Purchase orders only
	Vendor   *Vendor    `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`

	CreatedByID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"created_by_id"`
	CreatedBy    *User      `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	ReviewedByID *uuid.UUID `gorm:"type:uuid" json:"reviewed_by_id"`
	ReviewedBy   *User      `gorm:"foreignKey:ReviewedByID" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	ApprovedByID *uuid.UUID `gorm:"type:uuid" json:"approved_by_id"`
	ApprovedBy   *User      `gorm:"foreignKey:ApprovedByID" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at"`

	Items       []LineItem   `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"items"`
	Comments    []Comment    `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"comments"`
	Attachments []Attachment `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"attachments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineItem represents a single costed line within a Request
type LineItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"request_id"`
	Description string          `gorm:"type:varchar(255);not null" json:"description"`
	Quantity    int             `gorm:"type:int;not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"` // quantity * unit_price
}

// Comment is an append-only remark on a Request; transitions append their
// comment here, nothing is ever edited or removed
type Comment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Attachment is a stored file reference on a Request. Attachments only
// grow through explicit uploads; the workflow never removes them.
type Attachment struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID    uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	FileName     string    `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType  string    `gorm:"type:varchar(100)" json:"content_type"`
	Size         int64     `gorm:"type:bigint;not null;default:0" json:"size"`
	StorageURL   string    `gorm:"type:text;not null" json:"storage_url"`
	UploadedByID uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by_id"`
	UploadedBy   *User     `gorm:"foreignKey:UploadedByID" json:"uploaded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
