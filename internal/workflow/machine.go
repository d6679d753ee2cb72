package workflow

// Kind identifies a workflow-bearing request type
type Kind string

const (
	KindExpenseClaim   Kind = "expense-claim"
	KindTravelRequest  Kind = "travel-request"
	KindPaymentRequest Kind = "payment-request"
	KindPaymentVoucher Kind = "payment-voucher"
	KindPurchaseOrder  Kind = "purchase-order"
)

// Status enum constants
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// RoleCategory is the actor category required to fire a transition edge
type RoleCategory string

const (
	CategoryCreator  RoleCategory = "creator"
	CategoryReviewer RoleCategory = "reviewer"
	CategoryApprover RoleCategory = "approver"
)

// canonical is the full machine: draft -> pending -> reviewed -> approved,
// with rejected reachable from pending (reviewer) or reviewed (approver).
var canonical = map[Status]map[Status]RoleCategory{
	StatusDraft: {
		StatusPending: CategoryCreator,
	},
	StatusPending: {
		StatusReviewed: CategoryReviewer,
		StatusRejected: CategoryReviewer,
	},
	StatusReviewed: {
		StatusApproved: CategoryApprover,
		StatusRejected: CategoryApprover,
	},
}

// direct is the reduced machine for purchase orders: no review step,
// approval goes straight from pending.
var direct = map[Status]map[Status]RoleCategory{
	StatusPending: {
		StatusApproved: CategoryApprover,
		StatusRejected: CategoryApprover,
	},
}

var machines = map[Kind]map[Status]map[Status]RoleCategory{
	KindExpenseClaim:   canonical,
	KindTravelRequest:  canonical,
	KindPaymentRequest: canonical,
	KindPaymentVoucher: canonical,
	KindPurchaseOrder:  direct,
}

// Kinds lists every registered request kind
func Kinds() []Kind {
	return []Kind{
		KindExpenseClaim,
		KindTravelRequest,
		KindPaymentRequest,
		KindPaymentVoucher,
		KindPurchaseOrder,
	}
}

// ValidKind reports whether k is a registered request kind
func ValidKind(k Kind) bool {
	_, ok := machines[k]
	return ok
}

// Initial returns the status a newly created request starts in.
// Purchase orders have no draft stage and enter the machine pending.
func Initial(kind Kind) Status {
	if kind == KindPurchaseOrder {
		return StatusPending
	}
	return StatusDraft
}

// CanTransition reports whether the edge (from -> to) is declared for kind,
// returning the role category required to fire it. Any edge not in the table
// must be refused by callers without side effects.
func CanTransition(kind Kind, from, to Status) (RoleCategory, bool) {
	edges, ok := machines[kind]
	if !ok {
		return "", false
	}
	targets, ok := edges[from]
	if !ok {
		return "", false
	}
	category, ok := targets[to]
	return category, ok
}

// Targets returns the statuses reachable from `from` for kind
func Targets(kind Kind, from Status) []Status {
	var out []Status
	for to := range machines[kind][from] {
		out = append(out, to)
	}
	return out
}

// Terminal reports whether no transition leaves s. Approved and rejected
// requests are never resurrected; rejection means starting a new draft.
func Terminal(kind Kind, s Status) bool {
	return len(machines[kind][s]) == 0
}

// Deletable reports whether a request in status s may be deleted at all
// (creator or admin only, enforced by the caller).
func Deletable(s Status) bool {
	return s == StatusDraft || s == StatusRejected
}
