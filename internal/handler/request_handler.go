package handler

import (
	"errors"
	"net/http"

	"backoffice/internal/document"
	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/internal/workflow"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

// kindRoutes maps each request kind to its URL segment
var kindRoutes = map[string]workflow.Kind{
	"expense-claims":   workflow.KindExpenseClaim,
	"travel-requests":  workflow.KindTravelRequest,
	"payment-requests": workflow.KindPaymentRequest,
	"payment-vouchers": workflow.KindPaymentVoucher,
	"purchase-orders":  workflow.KindPurchaseOrder,
}

type RequestHandler struct {
	requestService    service.RequestService
	attachmentService service.AttachmentService
	documentService   service.DocumentService
}

func NewRequestHandler(
	requestService service.RequestService,
	attachmentService service.AttachmentService,
	documentService service.DocumentService,
) *RequestHandler {
	return &RequestHandler{
		requestService:    requestService,
		attachmentService: attachmentService,
		documentService:   documentService,
	}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	for segment, kind := range kindRoutes {
		group := router.Group("/api/" + segment)
		k := kind
		{
			group.GET("", middleware.RequirePermission("requests.read"), h.list(k))
			group.POST("", middleware.RequirePermission("requests.write"), h.create(k))
			group.GET("/:id", middleware.RequirePermission("requests.read"), h.get(k))
			group.DELETE("/:id", middleware.RequireAuth(), h.delete(k))
			group.PATCH("/update-status/:id", middleware.RequireAuth(), h.updateStatus(k))
			group.PATCH("/admin-approval/:id", middleware.RequireAuth(), h.adminApproval(k))
			group.POST("/:id/comments", middleware.RequirePermission("requests.read"), h.addComment(k))
			group.POST("/:id/attachments", middleware.RequireAuth(), h.uploadAttachments(k))
			group.GET("/:id/document", middleware.RequirePermission("requests.read"), h.downloadDocument(k))
			group.POST("/:id/document", middleware.RequirePermission("requests.read"), h.attachDocument(k))
		}
	}
}

// writeError maps service sentinel errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, document.ErrIncompleteData):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, response.Error(status, err.Error()))
}

// list returns paginated requests of one kind
// @Summary      List requests
// @Description  Returns a paginated, searchable collection of one request kind
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        status  query  string  false  "Filter by status"
// @Param        search  query  string  false  "Match code or title"
// @Param        mine    query  bool    false  "Only requests created by the caller"
// @Success      200  {object}  response.Response
// @Router       /api/expense-claims [get]
func (h *RequestHandler) list(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		params := pagination.Parse(c)
		filter := service.ListRequestsFilter{
			Status: c.Query("status"),
			Search: c.Query("search"),
			Mine:   c.Query("mine") == "true",
			Page:   params.Page,
			Limit:  params.Limit,
		}

		requests, total, err := h.requestService.List(c.Request.Context(), actor, kind, filter)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": http.StatusOK,
			"data":   requests,
			"total":  total,
			"page":   params.Page,
			"limit":  params.Limit,
		})
	}
}

func (h *RequestHandler) create(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		var req service.CreateRequestDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		result, err := h.requestService.Create(c.Request.Context(), actor, kind, req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
	}
}

func (h *RequestHandler) get(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.Actor(c)

		result, err := h.requestService.Get(c.Request.Context(), actor, kind, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
	}
}

func (h *RequestHandler) delete(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		if err := h.requestService.Delete(c.Request.Context(), actor, kind, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
	}
}

// updateStatus fires a workflow transition
// @Summary      Update request status
// @Description  Moves a request along its workflow (send, review, approve, reject)
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  string                 true  "Request ID"
// @Param        payload  body  service.TransitionDTO  true  "Target status and optional comment"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/expense-claims/update-status/{id} [patch]
func (h *RequestHandler) updateStatus(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		var req service.TransitionDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		result, err := h.requestService.SubmitTransition(
			c.Request.Context(), actor, kind, c.Param("id"), workflow.Status(req.Status), req.Comment)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
	}
}

func (h *RequestHandler) adminApproval(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		var req service.AdminApprovalDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		result, err := h.requestService.SubmitAdminApproval(
			c.Request.Context(), actor, kind, c.Param("id"), req.ApproverID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
	}
}

func (h *RequestHandler) addComment(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		var req struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		result, err := h.requestService.AddComment(c.Request.Context(), actor, kind, c.Param("id"), req.Text)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
	}
}

// uploadAttachments accepts multipart uploads under the "files" field
func (h *RequestHandler) uploadAttachments(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid multipart form: "+err.Error()))
			return
		}
		files := form.File["files"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "no files provided"))
			return
		}

		uploaded := make([]service.AttachmentResponse, 0, len(files))
		for _, fh := range files {
			src, openErr := fh.Open()
			if openErr != nil {
				c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "failed to read file "+fh.Filename))
				return
			}
			att, upErr := h.attachmentService.Upload(
				c.Request.Context(), actor, kind, c.Param("id"),
				fh.Filename, fh.Header.Get("Content-Type"), fh.Size, src)
			src.Close()
			if upErr != nil {
				writeError(c, upErr)
				return
			}
			uploaded = append(uploaded, att)
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, uploaded))
	}
}

// downloadDocument renders the request snapshot as a PDF and streams it
func (h *RequestHandler) downloadDocument(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.Actor(c)

		artifact, err := h.documentService.Render(c.Request.Context(), actor, kind, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Content-Disposition", `attachment; filename="`+artifact.FileName+`"`)
		c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
	}
}

// attachDocument renders the PDF and files it as an attachment on the request
func (h *RequestHandler) attachDocument(kind workflow.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.Actor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing identity"))
			return
		}

		att, err := h.documentService.RenderAndAttach(c.Request.Context(), actor, kind, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, att))
	}
}
