package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"backoffice/internal/database"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// captureHub records published workflow events for assertions
type captureHub struct {
	mu     sync.Mutex
	events []interface{}
}

func (h *captureHub) Publish(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, v)
}

func (h *captureHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestService(t *testing.T) (RequestService, *gorm.DB, *captureHub) {
	t.Helper()
	db := setupTestDB(t)
	hub := &captureHub{}
	svc := NewRequestService(
		repository.NewRequestRepository(db),
		repository.NewUserRepository(db),
		repository.NewAuditRepository(db),
		repository.NewTransactionManager(db),
		hub,
	)
	return svc, db, hub
}

func createUser(t *testing.T, db *gorm.DB, username string, role workflow.Role) workflow.Actor {
	t.Helper()
	user := model.User{
		Username: username,
		Email:    username + "@example.org",
		Password: "hashed",
		Role:     string(role),
	}
	require.NoError(t, db.Create(&user).Error)
	return workflow.Actor{ID: user.ID, Role: role}
}

func TestCreateDraftAndSend(t *testing.T) {
	svc, db, hub := newTestService(t)
	ctx := context.Background()
	staff := createUser(t, db, "alice", workflow.RoleStaff)

	created, err := svc.Create(ctx, staff, workflow.KindExpenseClaim, CreateRequestDTO{
		Title: "Conference travel reimbursement",
		Items: []LineItemDTO{
			{Description: "Train tickets", Quantity: 2, UnitPrice: "45.50"},
			{Description: "Hotel", Quantity: 3, UnitPrice: "120.00"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "draft", created.Status)
	assert.True(t, strings.HasPrefix(created.Code, "EC-"), "code was %s", created.Code)
	assert.Equal(t, "451.00", created.TotalAmount)
	assert.Len(t, created.Items, 2)
	assert.Nil(t, created.ReviewedBy)
	require.NotNil(t, created.Capabilities)
	assert.True(t, created.Capabilities.IsCreator)
	assert.True(t, created.Capabilities.CanDelete)

	sent, err := svc.SubmitTransition(ctx, staff, workflow.KindExpenseClaim, created.ID, workflow.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, "pending", sent.Status)
	assert.Nil(t, sent.ReviewedBy)
	assert.Equal(t, 1, hub.count())

	// Only the creator may send a draft
	other := createUser(t, db, "mallory", workflow.RoleStaff)
	draft, err := svc.Create(ctx, other, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Other draft"})
	require.NoError(t, err)
	_, err = svc.SubmitTransition(ctx, staff, workflow.KindExpenseClaim, draft.ID, workflow.StatusPending, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateWithSendSkipsDraft(t *testing.T) {
	svc, db, _ := newTestService(t)
	staff := createUser(t, db, "alice", workflow.RoleStaff)

	created, err := svc.Create(context.Background(), staff, workflow.KindTravelRequest, CreateRequestDTO{
		Title: "Site visit",
		Send:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", created.Status)
	assert.True(t, strings.HasPrefix(created.Code, "TR-"))
}

// The reviewed path end to end: staff sends, an unrelated reviewer claims the
// review, and the assigned admin rejects without ever touching the approver
// slot.
func TestReviewedPathScenario(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	bob := createUser(t, db, "bob", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)
	dave := createUser(t, db, "dave", workflow.RoleAdmin)

	created, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Team lunch", Send: true})
	require.NoError(t, err)

	// Staff cannot review
	_, err = svc.SubmitTransition(ctx, bob, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Admin cannot jump the queue at pending
	_, err = svc.SubmitTransition(ctx, dave, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Undeclared edge is refused before any capability check
	_, err = svc.SubmitTransition(ctx, carol, workflow.KindExpenseClaim, created.ID, workflow.StatusApproved, "")
	assert.ErrorIs(t, err, ErrConflict)

	// Reviewer claims the review slot by acting
	reviewed, err := svc.SubmitTransition(ctx, carol, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, "reviewed", reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, "carol", reviewed.ReviewedBy.Username)
	assert.NotNil(t, reviewed.ReviewedAt)
	require.Len(t, reviewed.Comments, 1)
	assert.Equal(t, "looks fine", reviewed.Comments[0].Text)

	// Double-submit of the same transition is refused, nothing duplicated
	_, err = svc.SubmitTransition(ctx, carol, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "looks fine")
	assert.ErrorIs(t, err, ErrConflict)
	var comments int64
	require.NoError(t, db.Model(&model.Comment{}).Count(&comments).Error)
	assert.EqualValues(t, 1, comments)

	// Admin rejects at reviewed: approver slot stays empty, comment appended
	rejected, err := svc.SubmitTransition(ctx, dave, workflow.KindExpenseClaim, created.ID, workflow.StatusRejected, "budget exceeded")
	require.NoError(t, err)
	assert.Equal(t, "rejected", rejected.Status)
	assert.Nil(t, rejected.ApprovedBy)
	require.NotNil(t, rejected.ReviewedBy)
	assert.Equal(t, "carol", rejected.ReviewedBy.Username)
	require.Len(t, rejected.Comments, 2)
	assert.Equal(t, "budget exceeded", rejected.Comments[1].Text)

	// Terminal state: no further transitions
	_, err = svc.SubmitTransition(ctx, dave, workflow.KindExpenseClaim, created.ID, workflow.StatusPending, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApproveClaimsSlot(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)
	dave := createUser(t, db, "dave", workflow.RoleAdmin)

	created, err := svc.Create(ctx, alice, workflow.KindPaymentVoucher, CreateRequestDTO{Title: "Utility payment", Send: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Code, "PV-"))

	_, err = svc.SubmitTransition(ctx, carol, workflow.KindPaymentVoucher, created.ID, workflow.StatusReviewed, "")
	require.NoError(t, err)

	approved, err := svc.SubmitTransition(ctx, dave, workflow.KindPaymentVoucher, created.ID, workflow.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "dave", approved.ApprovedBy.Username)
	assert.NotNil(t, approved.ApprovedAt)
}

func TestAdminApprovalSlotClaim(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)
	dave := createUser(t, db, "dave", workflow.RoleAdmin)
	erin := createUser(t, db, "erin", workflow.RoleAdmin)

	created, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "New laptop", Send: true})
	require.NoError(t, err)

	// Slot claims only exist at the reviewed stage
	_, err = svc.SubmitAdminApproval(ctx, alice, workflow.KindExpenseClaim, created.ID, dave.ID.String())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SubmitTransition(ctx, carol, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "")
	require.NoError(t, err)

	// Nominee must hold an admin role
	_, err = svc.SubmitAdminApproval(ctx, alice, workflow.KindExpenseClaim, created.ID, carol.ID.String())
	assert.ErrorIs(t, err, ErrConflict)

	// Creator nominates an admin; status does not move
	claimed, err := svc.SubmitAdminApproval(ctx, alice, workflow.KindExpenseClaim, created.ID, dave.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "reviewed", claimed.Status)
	require.NotNil(t, claimed.ApprovedBy)
	assert.Equal(t, "dave", claimed.ApprovedBy.Username)
	assert.Nil(t, claimed.ApprovedAt)

	// First claim wins; the second admin is refused
	_, err = svc.SubmitAdminApproval(ctx, erin, workflow.KindExpenseClaim, created.ID, erin.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	// The unassigned admin can no longer act on the request either
	_, err = svc.SubmitTransition(ctx, erin, workflow.KindExpenseClaim, created.ID, workflow.StatusApproved, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// The assigned approver finishes the workflow
	approved, err := svc.SubmitTransition(ctx, dave, workflow.KindExpenseClaim, created.ID, workflow.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "dave", approved.ApprovedBy.Username)
}

func TestPurchaseOrderDirectMachine(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)
	dave := createUser(t, db, "dave", workflow.RoleAdmin)

	vendor := model.Vendor{Name: "Acme Supplies", IsActive: true}
	require.NoError(t, db.Create(&vendor).Error)

	// A vendor is mandatory for purchase orders
	_, err := svc.Create(ctx, alice, workflow.KindPurchaseOrder, CreateRequestDTO{Title: "Office chairs"})
	assert.ErrorIs(t, err, ErrConflict)

	created, err := svc.Create(ctx, alice, workflow.KindPurchaseOrder, CreateRequestDTO{
		Title:    "Office chairs",
		VendorID: vendor.ID.String(),
		Items:    []LineItemDTO{{Description: "Chair", Quantity: 10, UnitPrice: "89.99"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", created.Status, "purchase orders have no draft stage")
	assert.True(t, strings.HasPrefix(created.Code, "PO-"))
	assert.Equal(t, "Acme Supplies", created.VendorName)

	// No review stage exists for purchase orders
	_, err = svc.SubmitTransition(ctx, carol, workflow.KindPurchaseOrder, created.ID, workflow.StatusReviewed, "")
	assert.ErrorIs(t, err, ErrConflict)

	approved, err := svc.SubmitTransition(ctx, dave, workflow.KindPurchaseOrder, created.ID, workflow.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.Nil(t, approved.ReviewedBy)
	assert.Equal(t, "dave", approved.ApprovedBy.Username)
}

func TestDeleteRules(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)
	dave := createUser(t, db, "dave", workflow.RoleAdmin)

	draft, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Draft claim"})
	require.NoError(t, err)

	// Reviewers hold no delete rights
	err = svc.Delete(ctx, carol, workflow.KindExpenseClaim, draft.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Pending requests are not deletable by anyone
	pending, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Pending claim", Send: true})
	require.NoError(t, err)
	err = svc.Delete(ctx, dave, workflow.KindExpenseClaim, pending.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// Creator deletes their own draft
	require.NoError(t, svc.Delete(ctx, alice, workflow.KindExpenseClaim, draft.ID))
	_, err = svc.Get(ctx, alice, workflow.KindExpenseClaim, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKindIsolation(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice", workflow.RoleStaff)

	claim, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Claim"})
	require.NoError(t, err)

	// A record is only reachable through its own kind's endpoints
	_, err = svc.Get(ctx, alice, workflow.KindTravelRequest, claim.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrailWritten(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	carol := createUser(t, db, "carol", workflow.RoleReviewer)

	created, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Audited", Send: true})
	require.NoError(t, err)
	_, err = svc.SubmitTransition(ctx, carol, workflow.KindExpenseClaim, created.ID, workflow.StatusReviewed, "")
	require.NoError(t, err)

	var actions []string
	require.NoError(t, db.Model(&model.AuditLog{}).Pluck("action", &actions).Error)
	assert.ElementsMatch(t, []string{model.ActionCreateRequest, model.ActionReviewRequest}, actions)

	var entityIDs []string
	require.NoError(t, db.Model(&model.AuditLog{}).Where("action = ?", model.ActionReviewRequest).Pluck("entity_id", &entityIDs).Error)
	require.Len(t, entityIDs, 1)
	assert.Equal(t, created.ID, entityIDs[0])
}

func TestListFilters(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice", workflow.RoleStaff)
	bob := createUser(t, db, "bob", workflow.RoleStaff)

	_, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Team offsite"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Printer ink", Send: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Parking"})
	require.NoError(t, err)

	all, total, err := svc.List(ctx, alice, workflow.KindExpenseClaim, ListRequestsFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	mine, total, err := svc.List(ctx, alice, workflow.KindExpenseClaim, ListRequestsFilter{Mine: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, r := range mine {
		assert.Equal(t, "alice", r.CreatedBy)
	}

	pending, total, err := svc.List(ctx, alice, workflow.KindExpenseClaim, ListRequestsFilter{Status: "pending"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, "Printer ink", pending[0].Title)

	search, _, err := svc.List(ctx, alice, workflow.KindExpenseClaim, ListRequestsFilter{Search: "offsite"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "Team offsite", search[0].Title)
}

func TestCodeSequencePerKind(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice", workflow.RoleStaff)

	first, err := svc.Create(ctx, alice, workflow.KindPaymentRequest, CreateRequestDTO{Title: "First"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, alice, workflow.KindPaymentRequest, CreateRequestDTO{Title: "Second"})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(first.Code, "PR-"))
	assert.True(t, strings.HasSuffix(first.Code, "-00001"), "code was %s", first.Code)
	assert.True(t, strings.HasSuffix(second.Code, "-00002"), "code was %s", second.Code)

	// Sequences are independent per kind
	other, err := svc.Create(ctx, alice, workflow.KindTravelRequest, CreateRequestDTO{Title: "Other kind"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(other.Code, "-00001"), "code was %s", other.Code)
}

// The sequence follows the highest code ever issued, not the surviving row
// count. Deleting an older request must not make the next create collide
// with a code that is still in use.
func TestCodeNotReusedAfterDelete(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice", workflow.RoleStaff)

	first, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "First"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Second"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(second.Code, "-00002"), "code was %s", second.Code)

	require.NoError(t, svc.Delete(ctx, alice, workflow.KindExpenseClaim, first.ID))

	third, err := svc.Create(ctx, alice, workflow.KindExpenseClaim, CreateRequestDTO{Title: "Third"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(third.Code, "-00003"), "code was %s", third.Code)
}
