package proposal

import (
	"fmt"
	"sort"
)

// StatusKey is the stable identifier of a proposal lifecycle state.
type StatusKey string

const (
	StatusSLSubmittedAwaitingApp         StatusKey = "sl_submitted_awaiting_app"
	StatusGuestSubmittedAwaitingApp      StatusKey = "guest_submitted_awaiting_app"
	StatusSLSubmittedPendingConfirmation StatusKey = "sl_submitted_pending_confirmation"
	StatusHostReview                     StatusKey = "host_review"
	StatusHostCounteroffer               StatusKey = "host_counteroffer"
	StatusAcceptedDraftingLease          StatusKey = "accepted_drafting_lease"
	StatusLeaseDocsForReview             StatusKey = "lease_docs_for_review"
	StatusLeaseDocsForSignatures         StatusKey = "lease_docs_for_signatures"
	StatusLeaseSignedAwaitingPayment     StatusKey = "lease_signed_awaiting_payment"
	StatusPaymentSubmittedLeaseActivated StatusKey = "payment_submitted_lease_activated"
	StatusCancelledByGuest               StatusKey = "cancelled_by_guest"
	StatusRejectedByHost                 StatusKey = "rejected_by_host"
	StatusCancelledBySystem              StatusKey = "cancelled_by_system"
)

// InvisibleLabel is the sentinel text of a slot that is never shown.
const InvisibleLabel = "Invisible"

// Label is one action slot of a status for a role. A label with an empty
// Action only navigates (e.g. to a review page) and never mutates state.
type Label struct {
	Text   string
	Action Action
}

// Invisible is the label of a hidden slot.
var Invisible = Label{Text: InvisibleLabel}

func (l Label) IsInvisible() bool {
	return l.Text == "" || l.Text == InvisibleLabel
}

func nav(text string) Label { return Label{Text: text} }

func act(text string, action Action) Label { return Label{Text: text, Action: action} }

// StatusDef is a registry row.
type StatusDef struct {
	Key       StatusKey
	Display   string
	SortOrder int
	Terminal  bool

	GuestLabels [2]Label
	HostLabels  [2]Label

	// Actions maps role -> action -> target status. An action that keeps the
	// proposal in place targets its own status.
	Actions map[Role]map[Action]StatusKey
}

// Labels returns the two slots for a role. Roles without slots get two
// invisible labels.
func (d StatusDef) Labels(role Role) [2]Label {
	switch role {
	case RoleGuest:
		return d.GuestLabels
	case RoleHost:
		return d.HostLabels
	default:
		return [2]Label{Invisible, Invisible}
	}
}

// Target returns the status the action leads to, or false when the action is
// not legal for role in this status.
func (d StatusDef) Target(role Role, action Action) (StatusKey, bool) {
	target, ok := d.Actions[role][action]
	return target, ok
}

const cancelLabel = "Cancel Proposal"

var registry = []StatusDef{
	{
		Key:         StatusSLSubmittedAwaitingApp,
		Display:     "Proposal Submitted by Split Lease - Awaiting Rental Application",
		SortOrder:   1,
		GuestLabels: [2]Label{act("Submit Rental Application", ActionSubmitRentalApplication), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{Invisible, Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionSubmitRentalApplication: StatusSLSubmittedPendingConfirmation,
				ActionCancel:                  StatusCancelledByGuest,
			},
		},
	},
	{
		Key:         StatusGuestSubmittedAwaitingApp,
		Display:     "Proposal Submitted - Awaiting Rental Application",
		SortOrder:   1,
		GuestLabels: [2]Label{act("Submit Rental Application", ActionSubmitRentalApplication), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{Invisible, Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionSubmitRentalApplication: StatusHostReview,
				ActionCancel:                  StatusCancelledByGuest,
			},
		},
	},
	{
		Key:         StatusSLSubmittedPendingConfirmation,
		Display:     "Proposal Submitted by Split Lease - Pending Confirmation",
		SortOrder:   2,
		GuestLabels: [2]Label{act("Confirm Proposal", ActionConfirmProposal), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{Invisible, Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionConfirmProposal: StatusHostReview,
				ActionCancel:          StatusCancelledByGuest,
			},
		},
	},
	{
		Key:         StatusHostReview,
		Display:     "Host Review",
		SortOrder:   3,
		GuestLabels: [2]Label{Invisible, act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{act("Accept Proposal", ActionAccept), act("Counteroffer", ActionCounteroffer)},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionCancel: StatusCancelledByGuest,
			},
			RoleHost: {
				ActionCounteroffer: StatusHostCounteroffer,
				ActionAccept:       StatusAcceptedDraftingLease,
			},
		},
	},
	{
		Key:         StatusHostCounteroffer,
		Display:     "Host Counteroffer Submitted / Awaiting Guest Review",
		SortOrder:   4,
		GuestLabels: [2]Label{act("Accept Host Terms", ActionAcceptCounteroffer), nav("Review Host Terms")},
		HostLabels:  [2]Label{Invisible, act("Reject Proposal", ActionReject)},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionAcceptCounteroffer: StatusAcceptedDraftingLease,
				ActionRejectCounteroffer: StatusHostReview,
				ActionCancel:             StatusCancelledByGuest,
			},
			RoleHost: {
				ActionReject: StatusRejectedByHost,
			},
		},
	},
	{
		Key:         StatusAcceptedDraftingLease,
		Display:     "Proposal or Counteroffer Accepted / Drafting Lease Documents",
		SortOrder:   5,
		GuestLabels: [2]Label{act("Remind Split Lease", ActionRemindSplitLease), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{Invisible, Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionRemindSplitLease: StatusAcceptedDraftingLease,
				ActionCancel:           StatusCancelledByGuest,
			},
			RoleAgent: {
				ActionDraftLease: StatusLeaseDocsForReview,
			},
		},
	},
	{
		Key:         StatusLeaseDocsForReview,
		Display:     "Lease Documents Draft Prepared / Awaiting Review",
		SortOrder:   6,
		GuestLabels: [2]Label{act("Review Documents", ActionFinalizeDocumentReview), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{act("Review Documents", ActionFinalizeDocumentReview), Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionFinalizeDocumentReview: StatusLeaseDocsForReview,
				ActionCancel:                 StatusCancelledByGuest,
			},
			RoleHost: {
				ActionFinalizeDocumentReview: StatusLeaseDocsForReview,
			},
			RoleAgent: {
				ActionSendForSignatures: StatusLeaseDocsForSignatures,
			},
		},
	},
	{
		Key:         StatusLeaseDocsForSignatures,
		Display:     "Lease Documents Sent for Signatures",
		SortOrder:   7,
		GuestLabels: [2]Label{nav("Sign Lease Documents"), act(cancelLabel, ActionCancel)},
		HostLabels:  [2]Label{nav("Sign Lease Documents"), Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleGuest: {
				ActionCancel: StatusCancelledByGuest,
			},
			RoleAgent: {
				ActionMarkSigned: StatusLeaseSignedAwaitingPayment,
			},
		},
	},
	{
		Key:         StatusLeaseSignedAwaitingPayment,
		Display:     "Lease Documents Signed / Awaiting Initial Payment",
		SortOrder:   8,
		GuestLabels: [2]Label{nav("Submit Initial Payment"), Invisible},
		HostLabels:  [2]Label{Invisible, Invisible},
		Actions: map[Role]map[Action]StatusKey{
			RoleAgent: {
				ActionMarkPaid: StatusPaymentSubmittedLeaseActivated,
			},
		},
	},
	{
		Key:         StatusPaymentSubmittedLeaseActivated,
		Display:     "Initial Payment Submitted / Lease Activated",
		SortOrder:   9,
		Terminal:    true,
		GuestLabels: [2]Label{nav("Go to Leases"), act("Delete Proposal", ActionDeleteProposal)},
		HostLabels:  [2]Label{nav("Go to Leases"), act("Delete Proposal", ActionDeleteProposal)},
	},
	{
		Key:         StatusCancelledByGuest,
		Display:     "Proposal Cancelled by Guest",
		SortOrder:   -1,
		Terminal:    true,
		GuestLabels: [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
		HostLabels:  [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
	},
	{
		Key:         StatusRejectedByHost,
		Display:     "Proposal Rejected by Host",
		SortOrder:   -1,
		Terminal:    true,
		GuestLabels: [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
		HostLabels:  [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
	},
	{
		Key:         StatusCancelledBySystem,
		Display:     "Proposal Cancelled by Split Lease",
		SortOrder:   -1,
		Terminal:    true,
		GuestLabels: [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
		HostLabels:  [2]Label{act("Delete Proposal", ActionDeleteProposal), Invisible},
	},
}

var registryIndex = buildIndex()

func buildIndex() map[StatusKey]StatusDef {
	index := make(map[StatusKey]StatusDef, len(registry))
	for i := range registry {
		def := &registry[i]
		if def.Actions == nil {
			def.Actions = map[Role]map[Action]StatusKey{}
		}
		if def.Terminal {
			// Terminal records can only be hidden by their owners.
			def.Actions[RoleGuest] = map[Action]StatusKey{ActionDeleteProposal: def.Key}
			def.Actions[RoleHost] = map[Action]StatusKey{ActionDeleteProposal: def.Key}
		} else {
			if def.Actions[RoleAgent] == nil {
				def.Actions[RoleAgent] = map[Action]StatusKey{}
			}
			def.Actions[RoleAgent][ActionCancelBySystem] = StatusCancelledBySystem
		}
		index[def.Key] = *def
	}
	return index
}

// Lookup returns the registry row for key. An unknown key means the stored
// data is corrupt and must not be defaulted.
func Lookup(key StatusKey) (StatusDef, error) {
	def, ok := registryIndex[key]
	if !ok {
		return StatusDef{}, fmt.Errorf("%w: %q", ErrUnknownStatus, string(key))
	}
	return def, nil
}

// All returns every registry row ordered by sort order, terminal states last.
func All() []StatusDef {
	out := make([]StatusDef, 0, len(registry))
	for _, def := range registry {
		out = append(out, registryIndex[def.Key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}

func rank(def StatusDef) int {
	if def.SortOrder < 0 {
		return 1 << 20
	}
	return def.SortOrder
}

// Allows reports whether role may perform action while the proposal is in
// status. Unknown statuses allow nothing.
func Allows(status StatusKey, role Role, action Action) bool {
	def, err := Lookup(status)
	if err != nil {
		return false
	}
	_, ok := def.Target(role, action)
	return ok
}

// IsTerminal reports whether no lifecycle transition leaves the status.
func IsTerminal(status StatusKey) (bool, error) {
	def, err := Lookup(status)
	if err != nil {
		return false, err
	}
	return def.Terminal, nil
}

// HasProgressedPast reports whether status is strictly beyond milestone on
// the happy path. Cancelled and rejected states have progressed past nothing.
func HasProgressedPast(status, milestone StatusKey) (bool, error) {
	cur, err := Lookup(status)
	if err != nil {
		return false, err
	}
	ms, err := Lookup(milestone)
	if err != nil {
		return false, err
	}
	if cur.SortOrder < 0 {
		return false, nil
	}
	return cur.SortOrder > ms.SortOrder, nil
}

// EntryStatus is the status a newly created proposal starts in.
func EntryStatus(role Role, hasRentalApplication bool) (StatusKey, error) {
	switch role {
	case RoleGuest:
		if hasRentalApplication {
			return StatusHostReview, nil
		}
		return StatusGuestSubmittedAwaitingApp, nil
	case RoleAgent:
		if hasRentalApplication {
			return StatusSLSubmittedPendingConfirmation, nil
		}
		return StatusSLSubmittedAwaitingApp, nil
	default:
		return "", fmt.Errorf("%w: %s cannot create proposals", ErrInvalidTransition, role)
	}
}

// Reachable returns every status reachable from the entry states through the
// declared action graph.
func Reachable() map[StatusKey]bool {
	seen := map[StatusKey]bool{}
	queue := []StatusKey{}
	for _, role := range []Role{RoleGuest, RoleAgent} {
		for _, withApp := range []bool{true, false} {
			entry, _ := EntryStatus(role, withApp)
			if !seen[entry] {
				seen[entry] = true
				queue = append(queue, entry)
			}
		}
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		def := registryIndex[key]
		for _, actions := range def.Actions {
			for _, target := range actions {
				if !seen[target] {
					seen[target] = true
					queue = append(queue, target)
				}
			}
		}
	}
	return seen
}
