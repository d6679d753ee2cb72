package service

import (
	"context"
	"fmt"
	"time"

	"backoffice/internal/document"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentService renders a request snapshot into a PDF artifact on
// explicit user action and optionally files it as an attachment. A failure
// here never touches the request's workflow state.
type DocumentService interface {
	Render(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (document.Artifact, error)
	RenderAndAttach(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (AttachmentResponse, error)
}

type documentService struct {
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	attachments AttachmentService
	generator   *document.Generator
}

func NewDocumentService(
	requestRepo repository.RequestRepository,
	auditRepo repository.AuditRepository,
	attachments AttachmentService,
) DocumentService {
	return &documentService{
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		attachments: attachments,
		generator:   document.NewGenerator(),
	}
}

func (s *documentService) Render(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (document.Artifact, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return document.Artifact{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}

	request, err := s.requestRepo.GetByID(ctx, kind, requestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return document.Artifact{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return document.Artifact{}, err
	}

	artifact, err := s.generator.Render(toDocument(request))
	if err != nil {
		return document.Artifact{}, err
	}

	userID := actor.ID
	entry := model.AuditLog{
		UserID:     &userID,
		Action:     model.ActionGenerateDocument,
		EntityID:   request.ID.String(),
		EntityName: request.Code,
		Details:    fmt.Sprintf(`{"file_name":%q}`, artifact.FileName),
	}
	if auditErr := s.auditRepo.Create(ctx, &entry); auditErr != nil {
		return document.Artifact{}, fmt.Errorf("failed to write audit log: %w", auditErr)
	}

	return artifact, nil
}

func (s *documentService) RenderAndAttach(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string) (AttachmentResponse, error) {
	artifact, err := s.Render(ctx, actor, kind, id)
	if err != nil {
		return AttachmentResponse{}, err
	}
	return s.attachments.Attach(ctx, actor, kind, id, artifact.FileName, artifact.ContentType, artifact.Data)
}

func toDocument(r *model.Request) document.Document {
	doc := document.Document{
		Code:     r.Code,
		Kind:     r.Kind,
		Title:    r.Title,
		Status:   r.Status,
		Currency: r.Currency,
		Total:    r.TotalAmount,
		IssuedAt: time.Now(),
	}
	if r.CreatedBy != nil {
		doc.Creator = r.CreatedBy.Username
	}
	if r.ReviewedBy != nil {
		doc.Reviewer = r.ReviewedBy.Username
	}
	if r.ApprovedBy != nil {
		doc.Approver = r.ApprovedBy.Username
	}
	doc.Lines = make([]document.Line, 0, len(r.Items))
	for _, it := range r.Items {
		doc.Lines = append(doc.Lines, document.Line{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.Amount,
		})
	}
	return doc
}
