package proposal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionsFor(t *testing.T) {
	tests := []struct {
		name   string
		status StatusKey
		role   Role
		flags  Flags
		want1  ActionSlot
		want2  ActionSlot
	}{
		{
			name:   "host review for host",
			status: StatusHostReview,
			role:   RoleHost,
			want1:  ActionSlot{Label: "Accept Proposal", Action: ActionAccept, Visible: true},
			want2:  ActionSlot{Label: "Counteroffer", Action: ActionCounteroffer, Visible: true},
		},
		{
			name:   "host review for guest hides first slot",
			status: StatusHostReview,
			role:   RoleGuest,
			want1:  ActionSlot{Label: InvisibleLabel},
			want2:  ActionSlot{Label: "Cancel Proposal", Action: ActionCancel, Visible: true},
		},
		{
			name:   "counteroffer for guest",
			status: StatusHostCounteroffer,
			role:   RoleGuest,
			want1:  ActionSlot{Label: "Accept Host Terms", Action: ActionAcceptCounteroffer, Visible: true},
			want2:  ActionSlot{Label: "Review Host Terms", Visible: true},
		},
		{
			name:   "reminders below cap",
			status: StatusAcceptedDraftingLease,
			role:   RoleGuest,
			flags:  Flags{ReminderCount: 2},
			want1:  ActionSlot{Label: "Remind Split Lease", Action: ActionRemindSplitLease, Visible: true},
			want2:  ActionSlot{Label: "Cancel Proposal", Action: ActionCancel, Visible: true},
		},
		{
			name:   "reminders at cap",
			status: StatusAcceptedDraftingLease,
			role:   RoleGuest,
			flags:  Flags{ReminderCount: 3},
			want1:  ActionSlot{Label: "Remind Split Lease", Action: ActionRemindSplitLease},
			want2:  ActionSlot{Label: "Cancel Proposal", Action: ActionCancel, Visible: true},
		},
		{
			name:   "host finalized review",
			status: StatusLeaseDocsForReview,
			role:   RoleHost,
			flags:  Flags{HostDocumentsReviewFinalized: true},
			want1:  ActionSlot{Label: "Review Documents", Action: ActionFinalizeDocumentReview},
			want2:  ActionSlot{Label: InvisibleLabel},
		},
		{
			name:   "guest flag does not hide host review",
			status: StatusLeaseDocsForReview,
			role:   RoleHost,
			flags:  Flags{GuestDocumentsReviewFinalized: true},
			want1:  ActionSlot{Label: "Review Documents", Action: ActionFinalizeDocumentReview, Visible: true},
			want2:  ActionSlot{Label: InvisibleLabel},
		},
		{
			name:   "terminal offers delete",
			status: StatusCancelledBySystem,
			role:   RoleGuest,
			want1:  ActionSlot{Label: "Delete Proposal", Action: ActionDeleteProposal, Visible: true},
			want2:  ActionSlot{Label: InvisibleLabel},
		},
		{
			name:   "deleted hides everything",
			status: StatusCancelledBySystem,
			role:   RoleGuest,
			flags:  Flags{Deleted: true},
			want1:  ActionSlot{Label: InvisibleLabel},
			want2:  ActionSlot{Label: InvisibleLabel},
		},
		{
			name:   "agent has no slots",
			status: StatusHostReview,
			role:   RoleAgent,
			want1:  ActionSlot{Label: InvisibleLabel},
			want2:  ActionSlot{Label: InvisibleLabel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ActionsFor(tt.status, tt.role, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want1, got.Action1)
			assert.Equal(t, tt.want2, got.Action2)
		})
	}
}

func TestActionsFor_UnknownStatus(t *testing.T) {
	_, err := ActionsFor("nope", RoleGuest, Flags{})
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = Visibility("nope", Flags{})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

// Every visible action slot must be accepted by the engine for the same
// (status, role, flags), and every hidden one refused.
func TestActionsFor_AgreesWithEngine(t *testing.T) {
	e := newTestEngine()
	flagSets := []Flags{
		{},
		{ReminderCount: ReminderCap},
		{GuestDocumentsReviewFinalized: true, HostDocumentsReviewFinalized: true},
	}

	for _, def := range All() {
		for _, role := range []Role{RoleGuest, RoleHost} {
			for _, flags := range flagSets {
				got, err := ActionsFor(def.Key, role, flags)
				require.NoError(t, err)

				for _, slot := range []ActionSlot{got.Action1, got.Action2} {
					if slot.Action == "" {
						continue
					}
					p := &Proposal{
						ID:                            "1x1",
						GuestID:                       "guest-1",
						HostID:                        "host-1",
						Status:                        def.Key,
						Version:                       1,
						ReminderCount:                 flags.ReminderCount,
						GuestDocumentsReviewFinalized: flags.GuestDocumentsReviewFinalized,
						HostDocumentsReviewFinalized:  flags.HostDocumentsReviewFinalized,
						HCNightlyRate:                 ptr(int64(20000)),
					}
					payload := Payload{Counteroffer: &Counteroffer{NightlyRate: ptr(int64(30000))}}
					_, err := e.Apply(p, slot.Action, role, payload)
					if slot.Visible {
						assert.NoError(t, err, "%s sees %s in %s", role, slot.Action, def.Key)
					} else {
						assert.ErrorIs(t, err, ErrInvalidTransition, "%s hidden %s in %s", role, slot.Action, def.Key)
					}
				}
			}
		}
	}
}

func TestVisibility_IsDeterministic(t *testing.T) {
	flags := Flags{ReminderCount: 1, Meeting: &MeetingFlags{Status: MeetingRequested, RequestedBy: RoleGuest}}

	first, err := Visibility(StatusHostReview, flags)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Visibility(StatusHostReview, flags)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "Host Review", first.Display)
}

func TestMeetingAffordance(t *testing.T) {
	requestedByGuest := &MeetingFlags{Status: MeetingRequested, RequestedBy: RoleGuest}

	tests := []struct {
		name   string
		status StatusKey
		role   Role
		flags  Flags
		want   MeetingAffordance
	}{
		{"no meeting yet", StatusHostReview, RoleGuest, Flags{}, MeetingAffordanceRequest},
		{"requester waits", StatusHostReview, RoleGuest, Flags{Meeting: requestedByGuest}, MeetingAffordanceAwaiting},
		{"counterparty responds", StatusHostReview, RoleHost, Flags{Meeting: requestedByGuest}, MeetingAffordanceRespond},
		{"declined can be requested again", StatusHostCounteroffer, RoleHost, Flags{Meeting: &MeetingFlags{Status: MeetingDeclined, RequestedBy: RoleGuest}}, MeetingAffordanceRequest},
		{"booked", StatusAcceptedDraftingLease, RoleHost, Flags{Meeting: &MeetingFlags{Status: MeetingAccepted, RequestedBy: RoleGuest}}, MeetingAffordanceBooked},
		{"closed after signatures", StatusLeaseDocsForSignatures, RoleGuest, Flags{}, MeetingAffordanceNone},
		{"closed when terminal", StatusCancelledByGuest, RoleHost, Flags{}, MeetingAffordanceNone},
		{"closed when deleted", StatusHostReview, RoleGuest, Flags{Deleted: true}, MeetingAffordanceNone},
		{"agent", StatusHostReview, RoleAgent, Flags{}, MeetingAffordanceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ActionsFor(tt.status, tt.role, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Meeting)
		})
	}
}
