package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/workflow"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter narrows request listings
type RequestFilter struct {
	Kind      workflow.Kind
	Status    string // empty for all
	CreatedBy *uuid.UUID
	Search    string // matches code or title
	Page      int
	Limit     int
}

// RequestRepository defines data access for workflow requests
type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	GetByID(ctx context.Context, kind workflow.Kind, id uuid.UUID) (*model.Request, error)
	// GetForUpdate loads the request inside the current transaction with a
	// row lock so that concurrent slot claims serialize on the database.
	GetForUpdate(ctx context.Context, kind workflow.Kind, id uuid.UUID) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	Save(ctx context.Context, req *model.Request) error
	Delete(ctx context.Context, id uuid.UUID) error
	AppendComment(ctx context.Context, comment *model.Comment) error
	AddAttachment(ctx context.Context, att *model.Attachment) error
	NextCode(ctx context.Context, kind workflow.Kind) (string, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) GetByID(ctx context.Context, kind workflow.Kind, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	err := GetDB(ctx, r.db).
		Preload("CreatedBy").
		Preload("ReviewedBy").
		Preload("ApprovedBy").
		Preload("Vendor").
		Preload("Items").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Comments.User").
		Preload("Attachments").
		First(&req, "id = ? AND kind = ?", id, string(kind)).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetForUpdate(ctx context.Context, kind workflow.Kind, id uuid.UUID) (*model.Request, error) {
	db := GetDB(ctx, r.db)
	// SQLite (used in tests) has no SELECT ... FOR UPDATE
	if db.Dialector.Name() == "postgres" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var req model.Request
	if err := db.First(&req, "id = ? AND kind = ?", id, string(kind)).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	base := GetDB(ctx, r.db).Model(&model.Request{}).Where("kind = ?", string(filter.Kind))
	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if filter.CreatedBy != nil {
		base = base.Where("created_by_id = ?", *filter.CreatedBy)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		base = base.Where("code LIKE ? OR title LIKE ?", like, like)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var requests []model.Request
	err := base.
		Preload("CreatedBy").
		Preload("ReviewedBy").
		Preload("ApprovedBy").
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&requests).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch requests: %w", err)
	}

	return requests, total, nil
}

func (r *requestRepository) Save(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(req).Error
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Select(clause.Associations).Delete(&model.Request{ID: id}).Error
}

func (r *requestRepository) AppendComment(ctx context.Context, comment *model.Comment) error {
	return GetDB(ctx, r.db).Create(comment).Error
}

func (r *requestRepository) AddAttachment(ctx context.Context, att *model.Attachment) error {
	return GetDB(ctx, r.db).Create(att).Error
}

// codePrefixes maps kinds to their human-facing code prefixes
var codePrefixes = map[workflow.Kind]string{
	workflow.KindExpenseClaim:   "EC",
	workflow.KindTravelRequest:  "TR",
	workflow.KindPaymentRequest: "PR",
	workflow.KindPaymentVoucher: "PV",
	workflow.KindPurchaseOrder:  "PO",
}

// NextCode generates the next business code for kind, e.g. PO-20260831-00001.
// A per-prefix advisory lock prevents concurrent duplicates on Postgres. The
// suffix continues from the highest code ever issued for the prefix, not a
// row count, so deleting a request never causes a code to be reissued.
func (r *requestRepository) NextCode(ctx context.Context, kind workflow.Kind) (string, error) {
	db := GetDB(ctx, r.db)
	prefix := fmt.Sprintf("%s-%s-", codePrefixes[kind], time.Now().Format("20060102"))

	if db.Dialector.Name() == "postgres" {
		db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix)
	}

	var last sql.NullString
	if err := db.Model(&model.Request{}).
		Where("code LIKE ?", prefix+"%").
		Select("MAX(code)").
		Scan(&last).Error; err != nil {
		return "", err
	}

	seq := 0
	if last.Valid {
		seq, _ = strconv.Atoi(strings.TrimPrefix(last.String, prefix))
	}

	return fmt.Sprintf("%s%05d", prefix, seq+1), nil
}
