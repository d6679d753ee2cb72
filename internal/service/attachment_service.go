package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gorm.io/gorm"
)

// AttachmentService stores uploaded files and records them on a request.
// Blobs go through afs so the backing store (local disk, cloud bucket) is
// a URL scheme, not code.
type AttachmentService interface {
	Upload(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, fileName, contentType string, size int64, content io.Reader) (AttachmentResponse, error)
	// Attach stores an internally generated artifact (e.g. a rendered
	// document) without the creator/approved gate applied to ad-hoc uploads.
	Attach(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, fileName, contentType string, content []byte) (AttachmentResponse, error)
}

type attachmentService struct {
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	fs          afs.Service
	baseURL     string
}

func NewAttachmentService(
	requestRepo repository.RequestRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	baseURL string,
) AttachmentService {
	return &attachmentService{
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		fs:          afs.New(),
		baseURL:     baseURL,
	}
}

func (s *attachmentService) Upload(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, fileName, contentType string, size int64, content io.Reader) (AttachmentResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return AttachmentResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}

	request, err := s.requestRepo.GetByID(ctx, kind, requestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return AttachmentResponse{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return AttachmentResponse{}, err
	}

	caps := workflow.Resolve(actor, snapshotOf(request))
	if !caps.CanUploadFiles {
		return AttachmentResponse{}, fmt.Errorf("%w: files may only be uploaded by the creator of an approved request", ErrForbidden)
	}

	return s.store(ctx, actor, request, fileName, contentType, size, content)
}

func (s *attachmentService) Attach(ctx context.Context, actor workflow.Actor, kind workflow.Kind, id string, fileName, contentType string, content []byte) (AttachmentResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return AttachmentResponse{}, fmt.Errorf("%w: invalid request id", ErrNotFound)
	}
	request, err := s.requestRepo.GetByID(ctx, kind, requestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return AttachmentResponse{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return AttachmentResponse{}, err
	}
	return s.store(ctx, actor, request, fileName, contentType, int64(len(content)), bytes.NewReader(content))
}

func (s *attachmentService) store(ctx context.Context, actor workflow.Actor, request *model.Request, fileName, contentType string, size int64, content io.Reader) (AttachmentResponse, error) {
	// Namespace by request id so codes with identical filenames never collide
	storageURL := url.Join(s.baseURL, request.ID.String(), path.Base(fileName))
	if err := s.fs.Upload(ctx, storageURL, file.DefaultFileOsMode, content); err != nil {
		return AttachmentResponse{}, fmt.Errorf("failed to store file %s: %w", fileName, err)
	}

	attachment := model.Attachment{
		RequestID:    request.ID,
		FileName:     path.Base(fileName),
		ContentType:  contentType,
		Size:         size,
		StorageURL:   storageURL,
		UploadedByID: actor.ID,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if addErr := s.requestRepo.AddAttachment(txCtx, &attachment); addErr != nil {
			return fmt.Errorf("failed to record attachment: %w", addErr)
		}
		userID := actor.ID
		entry := model.AuditLog{
			UserID:     &userID,
			Action:     model.ActionUploadAttachment,
			EntityID:   request.ID.String(),
			EntityName: request.Code,
			Details:    fmt.Sprintf(`{"file_name":%q,"size":%d}`, attachment.FileName, size),
		}
		return s.auditRepo.Create(txCtx, &entry)
	})
	if err != nil {
		return AttachmentResponse{}, err
	}

	return AttachmentResponse{
		ID:          attachment.ID.String(),
		FileName:    attachment.FileName,
		ContentType: attachment.ContentType,
		Size:        attachment.Size,
		StorageURL:  attachment.StorageURL,
		CreatedAt:   attachment.CreatedAt.Format(time.RFC3339),
	}, nil
}
