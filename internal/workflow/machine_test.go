package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCanonical(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		to       Status
		category RoleCategory
		ok       bool
	}{
		{"send draft", StatusDraft, StatusPending, CategoryCreator, true},
		{"review pending", StatusPending, StatusReviewed, CategoryReviewer, true},
		{"reject pending", StatusPending, StatusRejected, CategoryReviewer, true},
		{"approve reviewed", StatusReviewed, StatusApproved, CategoryApprover, true},
		{"reject reviewed", StatusReviewed, StatusRejected, CategoryApprover, true},
		{"skip review", StatusPending, StatusApproved, "", false},
		{"resurrect rejected", StatusRejected, StatusPending, "", false},
		{"demote approved", StatusApproved, StatusPending, "", false},
		{"draft to reviewed", StatusDraft, StatusReviewed, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, ok := CanTransition(KindExpenseClaim, tt.from, tt.to)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.category, category)
		})
	}
}

func TestCanTransitionPurchaseOrder(t *testing.T) {
	// Purchase orders skip the review stage entirely
	_, ok := CanTransition(KindPurchaseOrder, StatusPending, StatusReviewed)
	assert.False(t, ok)

	category, ok := CanTransition(KindPurchaseOrder, StatusPending, StatusApproved)
	assert.True(t, ok)
	assert.Equal(t, CategoryApprover, category)

	category, ok = CanTransition(KindPurchaseOrder, StatusPending, StatusRejected)
	assert.True(t, ok)
	assert.Equal(t, CategoryApprover, category)

	_, ok = CanTransition(KindPurchaseOrder, StatusDraft, StatusPending)
	assert.False(t, ok, "purchase orders have no draft stage")
}

func TestCanTransitionUnknownKind(t *testing.T) {
	_, ok := CanTransition(Kind("leave-request"), StatusDraft, StatusPending)
	assert.False(t, ok)
}

func TestInitial(t *testing.T) {
	for _, kind := range Kinds() {
		if kind == KindPurchaseOrder {
			assert.Equal(t, StatusPending, Initial(kind))
		} else {
			assert.Equal(t, StatusDraft, Initial(kind))
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, kind := range Kinds() {
		assert.True(t, Terminal(kind, StatusApproved))
		assert.True(t, Terminal(kind, StatusRejected))
		assert.False(t, Terminal(kind, StatusPending))
	}
}

func TestDeletable(t *testing.T) {
	assert.True(t, Deletable(StatusDraft))
	assert.True(t, Deletable(StatusRejected))
	assert.False(t, Deletable(StatusPending))
	assert.False(t, Deletable(StatusReviewed))
	assert.False(t, Deletable(StatusApproved))
}
