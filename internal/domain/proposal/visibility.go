package proposal

// Flags is the ancillary persisted state that refines registry defaults.
type Flags struct {
	ReminderCount                 int           `json:"reminder_count"`
	GuestDocumentsReviewFinalized bool          `json:"guest_documents_review_finalized"`
	HostDocumentsReviewFinalized  bool          `json:"host_documents_review_finalized"`
	Deleted                       bool          `json:"deleted"`
	Meeting                       *MeetingFlags `json:"meeting,omitempty"`
}

// ActionSlot is one computed button.
type ActionSlot struct {
	Label   string `json:"label"`
	Action  Action `json:"action,omitempty"`
	Visible bool   `json:"visible"`
}

// MeetingAffordance is the meeting control shown to a role.
type MeetingAffordance string

const (
	MeetingAffordanceNone     MeetingAffordance = "none"
	MeetingAffordanceRequest  MeetingAffordance = "request"
	MeetingAffordanceRespond  MeetingAffordance = "respond"
	MeetingAffordanceAwaiting MeetingAffordance = "awaiting_response"
	MeetingAffordanceBooked   MeetingAffordance = "booked"
)

// RoleActions is what one role sees for a proposal.
type RoleActions struct {
	Action1 ActionSlot        `json:"action1"`
	Action2 ActionSlot        `json:"action2"`
	Meeting MeetingAffordance `json:"meeting"`
}

// View holds the computed actions of both parties.
type View struct {
	Status  StatusKey   `json:"status"`
	Display string      `json:"display"`
	Guest   RoleActions `json:"guest"`
	Host    RoleActions `json:"host"`
}

// ActionsFor maps (status, role, flags) to the two action slots and the
// meeting affordance. It is pure; the same input always yields the same
// output.
func ActionsFor(status StatusKey, role Role, flags Flags) (RoleActions, error) {
	def, err := Lookup(status)
	if err != nil {
		return RoleActions{}, err
	}
	labels := def.Labels(role)
	return RoleActions{
		Action1: slotFor(def, role, labels[0], flags),
		Action2: slotFor(def, role, labels[1], flags),
		Meeting: meetingAffordance(def, role, flags),
	}, nil
}

// Visibility computes the view for both parties.
func Visibility(status StatusKey, flags Flags) (View, error) {
	def, err := Lookup(status)
	if err != nil {
		return View{}, err
	}
	guest, err := ActionsFor(status, RoleGuest, flags)
	if err != nil {
		return View{}, err
	}
	host, err := ActionsFor(status, RoleHost, flags)
	if err != nil {
		return View{}, err
	}
	return View{Status: status, Display: def.Display, Guest: guest, Host: host}, nil
}

func slotFor(def StatusDef, role Role, label Label, flags Flags) ActionSlot {
	if label.IsInvisible() || flags.Deleted {
		return ActionSlot{Label: InvisibleLabel}
	}
	slot := ActionSlot{Label: label.Text, Action: label.Action, Visible: true}
	if label.Action == "" {
		return slot
	}
	if _, ok := def.Target(role, label.Action); !ok || Suppressed(label.Action, role, flags) {
		slot.Visible = false
	}
	return slot
}

func meetingAffordance(def StatusDef, role Role, flags Flags) MeetingAffordance {
	if (role != RoleGuest && role != RoleHost) || flags.Deleted {
		return MeetingAffordanceNone
	}
	m := flags.Meeting
	if m != nil && m.Status == MeetingAccepted {
		return MeetingAffordanceBooked
	}
	if def.Terminal || def.SortOrder > sortOrderOf(StatusLeaseDocsForReview) {
		return MeetingAffordanceNone
	}
	if m == nil || m.Status == MeetingDeclined || m.Status == MeetingCancelled {
		return MeetingAffordanceRequest
	}
	if m.RequestedBy == role {
		return MeetingAffordanceAwaiting
	}
	return MeetingAffordanceRespond
}

func sortOrderOf(key StatusKey) int {
	return registryIndex[key].SortOrder
}
