package workflow

import "github.com/google/uuid"

// Role is a user's account role
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleReviewer   Role = "reviewer"
	RoleStaff      Role = "staff"
)

// ValidRole reports whether r is one of the four account roles
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleReviewer, RoleStaff:
		return true
	}
	return false
}

// Actor is the acting user as seen by the resolver
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Snapshot is the minimal persisted view of a request needed to derive
// capabilities. It must be rebuildable from stored fields alone.
type Snapshot struct {
	Kind       Kind
	Status     Status
	CreatedBy  uuid.UUID
	ReviewedBy *uuid.UUID
	ApprovedBy *uuid.UUID
}

// Capabilities is the boolean set gating workflow actions for one
// (actor, request) pair. Derived fresh on every use; nothing is cached.
type Capabilities struct {
	IsCreator         bool `json:"is_creator"`
	IsReviewer        bool `json:"is_reviewer"`
	IsApprover        bool `json:"is_approver"`
	IsAdmin           bool `json:"is_admin"`
	CanUpdateStatus   bool `json:"can_update_status"`
	CanUploadFiles    bool `json:"can_upload_files"`
	ShowAdminApproval bool `json:"show_admin_approval"`
	CanDelete         bool `json:"can_delete"`
}

// Resolve computes the capability set for actor against req. Pure: same
// inputs always yield the same output and neither argument is mutated.
//
// Slot gating: before a reviewer/approver slot is claimed the check is by
// role (any non-creator reviewer may act on a pending request, any
// non-creator admin on a reviewed one); once claimed, only the assigned
// user passes. The first eligible actor to act wins the slot; the database
// is the arbiter of ties.
func Resolve(actor Actor, req Snapshot) Capabilities {
	caps := Capabilities{
		IsCreator:  req.CreatedBy == actor.ID,
		IsReviewer: req.ReviewedBy != nil && *req.ReviewedBy == actor.ID,
		IsApprover: req.ApprovedBy != nil && *req.ApprovedBy == actor.ID,
		IsAdmin:    actor.Role == RoleAdmin || actor.Role == RoleSuperAdmin,
	}

	reviewOpen := req.ReviewedBy == nil || caps.IsReviewer
	approvalOpen := req.ApprovedBy == nil || caps.IsApprover

	if !caps.IsCreator {
		switch req.Kind {
		case KindPurchaseOrder:
			// Reduced machine: admins approve directly from pending.
			caps.CanUpdateStatus = caps.IsAdmin && req.Status == StatusPending && approvalOpen
		default:
			caps.CanUpdateStatus = (actor.Role == RoleReviewer && req.Status == StatusPending && reviewOpen) ||
				(caps.IsAdmin && req.Status == StatusReviewed && approvalOpen)
		}
	}

	caps.CanUploadFiles = caps.IsCreator && req.Status == StatusApproved

	// Eligibility to nominate/claim the open approver slot without yet
	// changing status: the creator picks an admin, or an admin claims it.
	caps.ShowAdminApproval = req.ApprovedBy == nil && req.Status == StatusReviewed &&
		(caps.IsCreator || caps.IsAdmin)

	caps.CanDelete = Deletable(req.Status) && (caps.IsCreator || caps.IsAdmin)

	return caps
}

// SendAllowed reports whether actor may fire the creator edge
// (draft -> pending). Only the creator sends their own draft.
func SendAllowed(actor Actor, req Snapshot) bool {
	return req.CreatedBy == actor.ID && req.Status == StatusDraft
}
