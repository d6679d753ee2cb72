package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func snapshot(kind Kind, status Status, createdBy uuid.UUID, reviewedBy, approvedBy *uuid.UUID) Snapshot {
	return Snapshot{
		Kind:       kind,
		Status:     status,
		CreatedBy:  createdBy,
		ReviewedBy: reviewedBy,
		ApprovedBy: approvedBy,
	}
}

func TestResolveCanUpdateStatus(t *testing.T) {
	creator := uuid.New()
	reviewer := uuid.New()
	otherReviewer := uuid.New()
	admin := uuid.New()

	tests := []struct {
		name  string
		actor Actor
		req   Snapshot
		want  bool
	}{
		{
			name:  "creator never moves own pending request",
			actor: Actor{ID: creator, Role: RoleReviewer},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, nil, nil),
			want:  false,
		},
		{
			name:  "any reviewer may act on unclaimed pending",
			actor: Actor{ID: reviewer, Role: RoleReviewer},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, nil, nil),
			want:  true,
		},
		{
			name:  "assigned reviewer keeps the slot",
			actor: Actor{ID: reviewer, Role: RoleReviewer},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, &reviewer, nil),
			want:  true,
		},
		{
			name:  "unassigned reviewer is locked out once claimed",
			actor: Actor{ID: otherReviewer, Role: RoleReviewer},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, &reviewer, nil),
			want:  false,
		},
		{
			name:  "staff cannot review",
			actor: Actor{ID: otherReviewer, Role: RoleStaff},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, nil, nil),
			want:  false,
		},
		{
			name:  "admin acts at reviewed stage",
			actor: Actor{ID: admin, Role: RoleAdmin},
			req:   snapshot(KindExpenseClaim, StatusReviewed, creator, &reviewer, nil),
			want:  true,
		},
		{
			name:  "admin cannot jump in at pending on canonical kinds",
			actor: Actor{ID: admin, Role: RoleAdmin},
			req:   snapshot(KindExpenseClaim, StatusPending, creator, nil, nil),
			want:  false,
		},
		{
			name:  "admin approves purchase orders straight from pending",
			actor: Actor{ID: admin, Role: RoleAdmin},
			req:   snapshot(KindPurchaseOrder, StatusPending, creator, nil, nil),
			want:  true,
		},
		{
			name:  "reviewer has no say on purchase orders",
			actor: Actor{ID: reviewer, Role: RoleReviewer},
			req:   snapshot(KindPurchaseOrder, StatusPending, creator, nil, nil),
			want:  false,
		},
		{
			name:  "non-approver admin locked out of claimed approval",
			actor: Actor{ID: admin, Role: RoleAdmin},
			req:   snapshot(KindExpenseClaim, StatusReviewed, creator, &reviewer, &reviewer),
			want:  false,
		},
		{
			name:  "terminal approved is immutable",
			actor: Actor{ID: admin, Role: RoleAdmin},
			req:   snapshot(KindExpenseClaim, StatusApproved, creator, &reviewer, &admin),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := Resolve(tt.actor, tt.req)
			assert.Equal(t, tt.want, caps.CanUpdateStatus)
		})
	}
}

func TestResolveDerivedFlags(t *testing.T) {
	creator := uuid.New()
	reviewer := uuid.New()
	admin := uuid.New()

	t.Run("upload only for creator on approved", func(t *testing.T) {
		approved := snapshot(KindExpenseClaim, StatusApproved, creator, &reviewer, &admin)
		assert.True(t, Resolve(Actor{ID: creator, Role: RoleStaff}, approved).CanUploadFiles)
		assert.False(t, Resolve(Actor{ID: admin, Role: RoleAdmin}, approved).CanUploadFiles)

		pending := snapshot(KindExpenseClaim, StatusPending, creator, nil, nil)
		assert.False(t, Resolve(Actor{ID: creator, Role: RoleStaff}, pending).CanUploadFiles)
	})

	t.Run("admin approval panel on open reviewed slot", func(t *testing.T) {
		reviewed := snapshot(KindExpenseClaim, StatusReviewed, creator, &reviewer, nil)
		assert.True(t, Resolve(Actor{ID: creator, Role: RoleStaff}, reviewed).ShowAdminApproval)
		assert.True(t, Resolve(Actor{ID: admin, Role: RoleAdmin}, reviewed).ShowAdminApproval)
		assert.False(t, Resolve(Actor{ID: reviewer, Role: RoleReviewer}, reviewed).ShowAdminApproval)

		claimed := snapshot(KindExpenseClaim, StatusReviewed, creator, &reviewer, &admin)
		assert.False(t, Resolve(Actor{ID: creator, Role: RoleStaff}, claimed).ShowAdminApproval)
	})

	t.Run("delete only draft or rejected, creator or admin", func(t *testing.T) {
		draft := snapshot(KindExpenseClaim, StatusDraft, creator, nil, nil)
		assert.True(t, Resolve(Actor{ID: creator, Role: RoleStaff}, draft).CanDelete)
		assert.True(t, Resolve(Actor{ID: admin, Role: RoleAdmin}, draft).CanDelete)
		assert.False(t, Resolve(Actor{ID: reviewer, Role: RoleReviewer}, draft).CanDelete)

		pending := snapshot(KindExpenseClaim, StatusPending, creator, nil, nil)
		assert.False(t, Resolve(Actor{ID: creator, Role: RoleStaff}, pending).CanDelete)
	})
}

func TestResolvePurity(t *testing.T) {
	creator := uuid.New()
	reviewer := uuid.New()
	actor := Actor{ID: reviewer, Role: RoleReviewer}
	req := snapshot(KindExpenseClaim, StatusPending, creator, nil, nil)

	first := Resolve(actor, req)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Resolve(actor, req))
	}

	// Neither argument is mutated
	assert.Equal(t, Actor{ID: reviewer, Role: RoleReviewer}, actor)
	assert.Nil(t, req.ReviewedBy)
	assert.Equal(t, StatusPending, req.Status)
}

func TestSendAllowed(t *testing.T) {
	creator := uuid.New()
	other := uuid.New()

	draft := snapshot(KindExpenseClaim, StatusDraft, creator, nil, nil)
	assert.True(t, SendAllowed(Actor{ID: creator, Role: RoleStaff}, draft))
	assert.False(t, SendAllowed(Actor{ID: other, Role: RoleAdmin}, draft))

	pending := snapshot(KindExpenseClaim, StatusPending, creator, nil, nil)
	assert.False(t, SendAllowed(Actor{ID: creator, Role: RoleStaff}, pending))
}
