package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type LineItemDTO struct {
	Description string `json:"description" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
	UnitPrice   string `json:"unit_price" binding:"required"` // Decimal string
}

type CreateRequestDTO struct {
	Title       string        `json:"title" binding:"required"`
	Description string        `json:"description"`
	Currency    string        `json:"currency"`
	Details     string        `json:"details"` // Kind-specific JSON snapshot
	VendorID    string        `json:"vendor_id"`
	Items       []LineItemDTO `json:"items"`
	Send        bool          `json:"send"` // Create directly in pending instead of draft
}

type TransitionDTO struct {
	Status  string `json:"status" binding:"required,oneof=pending reviewed approved rejected"`
	Comment string `json:"comment"`
}

type AdminApprovalDTO struct {
	ApproverID string `json:"approver_id" binding:"required"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type CommentResponse struct {
	ID        string  `json:"id"`
	User      UserRef `json:"user"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"created_at"`
}

type AttachmentResponse struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageURL  string `json:"storage_url"`
	CreatedAt   string `json:"created_at"`
}

type LineItemResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

type RequestResponse struct {
	ID           string                 `json:"id"`
	Kind         string                 `json:"kind"`
	Code         string                 `json:"code"`
	Status       string                 `json:"status"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Currency     string                 `json:"currency"`
	TotalAmount  string                 `json:"total_amount"`
	Details      string                 `json:"details"`
	VendorID     *string                `json:"vendor_id"`
	VendorName   string                 `json:"vendor_name,omitempty"`
	CreatedBy    *UserRef               `json:"created_by"`
	ReviewedBy   *UserRef               `json:"reviewed_by"`
	ReviewedAt   *string                `json:"reviewed_at"`
	ApprovedBy   *UserRef               `json:"approved_by"`
	ApprovedAt   *string                `json:"approved_at"`
	Items        []LineItemResponse     `json:"items"`
	Comments     []CommentResponse      `json:"comments"`
	Attachments  []AttachmentResponse   `json:"attachments"`
	Capabilities *workflow.Capabilities `json:"capabilities,omitempty"`
	CreatedAt    string                 `json:"created_at"`
}

type RequestSummary struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	TotalAmount string `json:"total_amount"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

type ListRequestsFilter struct {
	Status string
	Search string
	Mine   bool
	Page   int
	Limit  int
}

// EventPublisher receives workflow events for fan-out to connected clients
type EventPublisher interface {
	Publish(v interface{})
}

// --- Interface ---

// RequestService is the transition executor: every status change and slot
// claim goes through here, is validated against the state machine and the
// role resolver, and is serialized by the database.
type RequestService interface {
	Create(ctx context.Context, actor workflow.Actor, kind workflow.Kind, req CreateRequestDTO) (RequestResponse, error)
	Get(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (RequestResponse, error)
	List(ctx context.Context, actor workflow.Actor, kind workflow.Kind, filter ListRequestsFilter) ([]RequestSummary, int64, error)
	SubmitTransition(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, target workflow.Status, comment string) (RequestResponse, error)
	SubmitAdminApproval(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, approverID string) (RequestResponse, error)
	AddComment(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, text string) (RequestResponse, error)
	Delete(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) error
}

type requestService struct {
	requestRepo repository.RequestRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	events      EventPublisher
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
) RequestService {
	return &requestService{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		events:      events,
	}
}

// --- Implementation ---

func (s *requestService) Create(ctx context.Context, actor workflow.Actor, kind workflow.Kind, req CreateRequestDTO) (RequestResponse, error) {
	if !workflow.ValidKind(kind) {
		return RequestResponse{}, fmt.Errorf("%w: unknown request kind %q", ErrNotFound, kind)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	var vendorID *uuid.UUID
	if req.VendorID != "" {
		parsed, err := uuid.Parse(req.VendorID)
		if err != nil {
			return RequestResponse{}, fmt.Errorf("invalid vendor_id: %w", err)
		}
		vendorID = &parsed
	}
	if kind == workflow.KindPurchaseOrder && vendorID == nil {
		return RequestResponse{}, fmt.Errorf("%w: purchase orders require a vendor", ErrConflict)
	}

	items := make([]model.LineItem, 0, len(req.Items))
	total := decimal.Zero
	for _, it := range req.Items {
		unitPrice, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return RequestResponse{}, fmt.Errorf("invalid unit_price %q: %w", it.UnitPrice, err)
		}
		amount := unitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(amount)
		items = append(items, model.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   unitPrice,
			Amount:      amount,
		})
	}

	status := workflow.Initial(kind)
	if req.Send && status == workflow.StatusDraft {
		status = workflow.StatusPending
	}

	request := model.Request{
		Kind:        string(kind),
		Status:      string(status),
		Title:       req.Title,
		Description: req.Description,
		Currency:    currency,
		TotalAmount: total,
		Details:     req.Details,
		VendorID:    vendorID,
		CreatedByID: actor.ID,
		Items:       items,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		code, codeErr := s.requestRepo.NextCode(txCtx, kind)
		if codeErr != nil {
			return fmt.Errorf("failed to generate request code: %w", codeErr)
		}
		request.Code = code

		if createErr := s.requestRepo.Create(txCtx, &request); createErr != nil {
			return fmt.Errorf("failed to create request: %w", createErr)
		}

		return s.audit(txCtx, actor.ID, model.ActionCreateRequest, &request, map[string]interface{}{
			"kind":   string(kind),
			"status": request.Status,
			"total":  total.StringFixed(4),
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	return s.reload(ctx, actor, kind, request.ID)
}

func (s *requestService) Get(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}
	return s.reload(ctx, actor, kind, requestID)
}

func (s *requestService) List(ctx context.Context, actor workflow.Actor, kind workflow.Kind, filter ListRequestsFilter) ([]RequestSummary, int64, error) {
	if !workflow.ValidKind(kind) {
		return nil, 0, fmt.Errorf("%w: unknown request kind %q", ErrNotFound, kind)
	}

	repoFilter := repository.RequestFilter{
		Kind:   kind,
		Status: filter.Status,
		Search: filter.Search,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}
	if filter.Mine {
		id := actor.ID
		repoFilter.CreatedBy = &id
	}

	requests, total, err := s.requestRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]RequestSummary, 0, len(requests))
	for _, r := range requests {
		summary := RequestSummary{
			ID:          r.ID.String(),
			Kind:        r.Kind,
			Code:        r.Code,
			Status:      r.Status,
			Title:       r.Title,
			TotalAmount: r.TotalAmount.StringFixed(2),
			CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		}
		if r.CreatedBy != nil {
			summary.CreatedBy = r.CreatedBy.Username
		}
		summaries = append(summaries, summary)
	}

	return summaries, total, nil
}

// SubmitTransition validates the requested edge against the state machine
// and the acting user's capabilities, then applies it atomically. The row
// lock taken by GetForUpdate makes the database the arbiter when two
// eligible actors race for the same slot: the second transaction sees the
// claimed slot (or the advanced status) and is refused.
func (s *requestService) SubmitTransition(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, target workflow.Status, comment string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request, findErr := s.requestRepo.GetForUpdate(txCtx, kind, requestID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: request %s", ErrNotFound, id)
			}
			return findErr
		}

		from := workflow.Status(request.Status)
		category, ok := workflow.CanTransition(kind, from, target)
		if !ok {
			return fmt.Errorf("%w: request is %s, cannot move to %s", ErrConflict, request.Status, target)
		}

		snapshot := snapshotOf(request)
		switch category {
		case workflow.CategoryCreator:
			if !workflow.SendAllowed(actor, snapshot) {
				return fmt.Errorf("%w: only the creator may send a draft", ErrForbidden)
			}
		default:
			caps := workflow.Resolve(actor, snapshot)
			if !caps.CanUpdateStatus {
				return fmt.Errorf("%w: you are not eligible to act on this request", ErrForbidden)
			}
		}

		now := time.Now()
		request.Status = string(target)

		// Forward edges claim their slot; rejection claims nothing.
		if category == workflow.CategoryReviewer && target == workflow.StatusReviewed {
			request.ReviewedByID = &actor.ID
			request.ReviewedAt = &now
		}
		if target == workflow.StatusApproved {
			if request.ApprovedByID == nil {
				request.ApprovedByID = &actor.ID
			}
			request.ApprovedAt = &now
		}

		if saveErr := s.requestRepo.Save(txCtx, request); saveErr != nil {
			return fmt.Errorf("failed to update request: %w", saveErr)
		}

		if comment != "" {
			appendErr := s.requestRepo.AppendComment(txCtx, &model.Comment{
				RequestID: request.ID,
				UserID:    actor.ID,
				Text:      comment,
			})
			if appendErr != nil {
				return fmt.Errorf("failed to append comment: %w", appendErr)
			}
		}

		return s.audit(txCtx, actor.ID, transitionAction(target), request, map[string]interface{}{
			"from": string(from),
			"to":   string(target),
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.publish(kind, requestID, target)
	return s.reload(ctx, actor, kind, requestID)
}

// SubmitAdminApproval claims the open approver slot without changing
// status. First eligible claim wins; a second claim is refused with the
// conflict the loser must surface verbatim.
func (s *requestService) SubmitAdminApproval(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, approverID string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}
	approverUUID, err := uuid.Parse(approverID)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("invalid approver_id: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request, findErr := s.requestRepo.GetForUpdate(txCtx, kind, requestID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: request %s", ErrNotFound, id)
			}
			return findErr
		}

		caps := workflow.Resolve(actor, snapshotOf(request))
		if !caps.ShowAdminApproval {
			return fmt.Errorf("%w: you may not assign an approver for this request", ErrForbidden)
		}
		if request.ApprovedByID != nil {
			return fmt.Errorf("%w: approver slot already claimed", ErrConflict)
		}

		approver, userErr := s.userRepo.GetByID(txCtx, approverUUID.String())
		if userErr != nil {
			return fmt.Errorf("%w: approver not found", ErrNotFound)
		}
		role := workflow.Role(approver.Role)
		if role != workflow.RoleAdmin && role != workflow.RoleSuperAdmin {
			return fmt.Errorf("%w: approver must be an admin", ErrConflict)
		}

		request.ApprovedByID = &approverUUID
		if saveErr := s.requestRepo.Save(txCtx, request); saveErr != nil {
			return fmt.Errorf("failed to assign approver: %w", saveErr)
		}

		return s.audit(txCtx, actor.ID, model.ActionClaimApprover, request, map[string]interface{}{
			"approver_id": approverUUID.String(),
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	return s.reload(ctx, actor, kind, requestID)
}

func (s *requestService) AddComment(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, text string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}
	if text == "" {
		return RequestResponse{}, fmt.Errorf("comment text must not be empty")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request, findErr := s.requestRepo.GetForUpdate(txCtx, kind, requestID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: request %s", ErrNotFound, id)
			}
			return findErr
		}
		return s.requestRepo.AppendComment(txCtx, &model.Comment{
			RequestID: request.ID,
			UserID:    actor.ID,
			Text:      text,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	return s.reload(ctx, actor, kind, requestID)
}

func (s *requestService) Delete(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) error {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid request id", ErrNotFound)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request, findErr := s.requestRepo.GetForUpdate(txCtx, kind, requestID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: request %s", ErrNotFound, id)
			}
			return findErr
		}

		if !workflow.Deletable(workflow.Status(request.Status)) {
			return fmt.Errorf("%w: only draft or rejected requests may be deleted", ErrConflict)
		}
		caps := workflow.Resolve(actor, snapshotOf(request))
		if !caps.CanDelete {
			return fmt.Errorf("%w: only the creator or an admin may delete this request", ErrForbidden)
		}

		if delErr := s.requestRepo.Delete(txCtx, request.ID); delErr != nil {
			return fmt.Errorf("failed to delete request: %w", delErr)
		}

		return s.audit(txCtx, actor.ID, model.ActionDeleteRequest, request, map[string]interface{}{
			"status": request.Status,
		})
	})
}

// --- Helpers ---

func (s *requestService) reload(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id uuid.UUID) (RequestResponse, error) {
	request, err := s.requestRepo.GetByID(ctx, kind, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return RequestResponse{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return RequestResponse{}, fmt.Errorf("failed to reload request: %w", err)
	}
	return toRequestResponse(request, actor), nil
}

func (s *requestService) audit(ctx context.Context, userID uuid.UUID, action string, request *model.Request, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	entry := model.AuditLog{
		UserID:     &userID,
		Action:     action,
		EntityID:   request.ID.String(),
		EntityName: request.Code,
		Details:    string(payload),
	}
	if err := s.auditRepo.Create(ctx, &entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *requestService) publish(kind workflow.Kind, id uuid.UUID, status workflow.Status) {
	if s.events == nil {
		return
	}
	s.events.Publish(map[string]interface{}{
		"event":  "request.updated",
		"kind":   string(kind),
		"id":     id.String(),
		"status": string(status),
	})
}

func transitionAction(target workflow.Status) string {
	switch target {
	case workflow.StatusPending:
		return model.ActionSendRequest
	case workflow.StatusReviewed:
		return model.ActionReviewRequest
	case workflow.StatusApproved:
		return model.ActionApproveRequest
	default:
		return model.ActionRejectRequest
	}
}

func snapshotOf(r *model.Request) workflow.Snapshot {
	return workflow.Snapshot{
		Kind:       workflow.Kind(r.Kind),
		Status:     workflow.Status(r.Status),
		CreatedBy:  r.CreatedByID,
		ReviewedBy: r.ReviewedByID,
		ApprovedBy: r.ApprovedByID,
	}
}

func toUserRef(u *model.User) *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID.String(), Username: u.Username, Role: u.Role}
}

func toRequestResponse(r *model.Request, actor workflow.Actor) RequestResponse {
	resp := RequestResponse{
		ID:          r.ID.String(),
		Kind:        r.Kind,
		Code:        r.Code,
		Status:      r.Status,
		Title:       r.Title,
		Description: r.Description,
		Currency:    r.Currency,
		TotalAmount: r.TotalAmount.StringFixed(2),
		Details:     r.Details,
		CreatedBy:   toUserRef(r.CreatedBy),
		ReviewedBy:  toUserRef(r.ReviewedBy),
		ApprovedBy:  toUserRef(r.ApprovedBy),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}

	if r.VendorID != nil {
		v := r.VendorID.String()
		resp.VendorID = &v
	}
	if r.Vendor != nil {
		resp.VendorName = r.Vendor.Name
	}
	if r.ReviewedAt != nil {
		t := r.ReviewedAt.Format(time.RFC3339)
		resp.ReviewedAt = &t
	}
	if r.ApprovedAt != nil {
		t := r.ApprovedAt.Format(time.RFC3339)
		resp.ApprovedAt = &t
	}

	resp.Items = make([]LineItemResponse, 0, len(r.Items))
	for _, it := range r.Items {
		resp.Items = append(resp.Items, LineItemResponse{
			ID:          it.ID.String(),
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Amount:      it.Amount.StringFixed(2),
		})
	}

	resp.Comments = make([]CommentResponse, 0, len(r.Comments))
	for _, cm := range r.Comments {
		entry := CommentResponse{
			ID:        cm.ID.String(),
			Text:      cm.Text,
			CreatedAt: cm.CreatedAt.Format(time.RFC3339),
		}
		if cm.User != nil {
			entry.User = UserRef{ID: cm.User.ID.String(), Username: cm.User.Username, Role: cm.User.Role}
		}
		resp.Comments = append(resp.Comments, entry)
	}

	resp.Attachments = make([]AttachmentResponse, 0, len(r.Attachments))
	for _, att := range r.Attachments {
		resp.Attachments = append(resp.Attachments, AttachmentResponse{
			ID:          att.ID.String(),
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Size:        att.Size,
			StorageURL:  att.StorageURL,
			CreatedAt:   att.CreatedAt.Format(time.RFC3339),
		})
	}

	if actor.ID != uuid.Nil {
		caps := workflow.Resolve(actor, snapshotOf(r))
		resp.Capabilities = &caps
	}

	return resp
}
