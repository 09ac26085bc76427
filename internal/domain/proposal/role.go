package proposal

// Role is the relationship of a caller to a specific proposal.
type Role string

const (
	RoleGuest        Role = "guest"
	RoleHost         Role = "host"
	RoleAgent        Role = "agent"
	RoleUnauthorized Role = "unauthorized"
)

// Action names a requested lifecycle transition.
type Action string

const (
	ActionCreate                  Action = "create"
	ActionSubmitRentalApplication Action = "submitRentalApplication"
	ActionConfirmProposal         Action = "confirmProposal"
	ActionAccept                  Action = "accept"
	ActionCounteroffer            Action = "counteroffer"
	ActionAcceptCounteroffer      Action = "acceptCounteroffer"
	ActionRejectCounteroffer      Action = "rejectCounteroffer"
	ActionReject                  Action = "reject"
	ActionCancel                  Action = "cancel"
	ActionCancelBySystem          Action = "cancelBySystem"
	ActionRemindSplitLease        Action = "remindSplitLease"
	ActionDraftLease              Action = "draftLease"
	ActionFinalizeDocumentReview  Action = "finalizeDocumentReview"
	ActionSendForSignatures       Action = "sendForSignatures"
	ActionMarkSigned              Action = "markSigned"
	ActionMarkPaid                Action = "markPaid"
	ActionDeleteProposal          Action = "deleteProposal"
)

// Principal is a verified caller. UserID lives in the marketplace identifier
// space (the same space as GuestID and HostID); AuthID is the identity
// provider subject and is never compared against proposal parties.
type Principal struct {
	UserID  string
	AuthID  string
	Service bool
}

// ResolveRole determines how principal relates to p. p must be the persisted
// row. Deleted proposals still resolve so owners can audit them.
func ResolveRole(p *Proposal, principal Principal) Role {
	if p == nil {
		return RoleUnauthorized
	}
	if principal.UserID != "" {
		if principal.UserID == p.GuestID {
			return RoleGuest
		}
		if principal.UserID == p.HostID {
			return RoleHost
		}
	}
	if principal.Service {
		return RoleAgent
	}
	return RoleUnauthorized
}
