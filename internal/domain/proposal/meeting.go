package proposal

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MeetingStatus is the state of the virtual meeting handshake.
type MeetingStatus string

const (
	MeetingRequested MeetingStatus = "requested"
	MeetingAccepted  MeetingStatus = "accepted"
	MeetingDeclined  MeetingStatus = "declined"
	MeetingCancelled MeetingStatus = "cancelled"
)

const maxProposedTimes = 3

// VirtualMeeting is the optional scheduling handshake attached 1:1 to a
// proposal. It is never deleted; a closed meeting can be requested again.
type VirtualMeeting struct {
	ID            string        `json:"id"`
	ProposalID    string        `json:"proposal_id"`
	RequestedBy   Role          `json:"requested_by"`
	Status        MeetingStatus `json:"status"`
	ProposedTimes []time.Time   `json:"proposed_times"`
	BookedTime    *time.Time    `json:"booked_time,omitempty"`
	MeetingLink   string        `json:"meeting_link,omitempty"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	ModifiedAt    time.Time     `json:"modified_at"`
}

func (m *VirtualMeeting) Open() bool {
	return m != nil && (m.Status == MeetingRequested || m.Status == MeetingAccepted)
}

func (m *VirtualMeeting) Clone() *VirtualMeeting {
	if m == nil {
		return nil
	}
	c := *m
	c.ProposedTimes = slices.Clone(m.ProposedTimes)
	c.BookedTime = clonePtr(m.BookedTime)
	return &c
}

func (m *VirtualMeeting) Snapshot() map[string]any {
	times := make([]string, 0, len(m.ProposedTimes))
	for _, t := range m.ProposedTimes {
		times = append(times, t.UTC().Format(time.RFC3339))
	}
	return map[string]any{
		"proposal_id":    m.ProposalID,
		"requested_by":   string(m.RequestedBy),
		"status":         string(m.Status),
		"proposed_times": strings.Join(times, ","),
		"booked_time":    formatTimestamp(m.BookedTime),
		"meeting_link":   nullableString(m.MeetingLink),
		"created_at":     formatTimestamp(&m.CreatedAt),
		"modified_at":    formatTimestamp(&m.ModifiedAt),
	}
}

// MeetingFlags is the meeting state the visibility calculator reads.
type MeetingFlags struct {
	Status      MeetingStatus
	RequestedBy Role
}

func (m *VirtualMeeting) Flags() *MeetingFlags {
	if m == nil {
		return nil
	}
	return &MeetingFlags{Status: m.Status, RequestedBy: m.RequestedBy}
}

// MeetingResult is the outcome of a meeting mutation. Previous is nil when
// the row is created.
type MeetingResult struct {
	Previous *VirtualMeeting
	Meeting  *VirtualMeeting
	Intents  []SyncIntent
}

// MeetingResponse is the counterparty's answer to a meeting request.
type MeetingResponse struct {
	Accept      bool
	BookedTime  *time.Time
	MeetingLink string
}

// meetingWindowOpen reports whether the proposal still accepts meeting
// changes: not deleted, not terminal and not yet out for signatures.
func meetingWindowOpen(p *Proposal) error {
	def, err := Lookup(p.Status)
	if err != nil {
		return err
	}
	if p.Deleted || def.Terminal {
		return fmt.Errorf("%w: meetings are closed for proposal %s", ErrInvalidTransition, p.ID)
	}
	past, err := HasProgressedPast(p.Status, StatusLeaseDocsForReview)
	if err != nil {
		return err
	}
	if past {
		return fmt.Errorf("%w: meetings are closed once lease documents are out for signature", ErrInvalidTransition)
	}
	return nil
}

func partyRole(role Role) error {
	switch role {
	case RoleGuest, RoleHost:
		return nil
	case RoleAgent:
		return fmt.Errorf("%w: only the guest or host can change a meeting", ErrInvalidTransition)
	default:
		return ErrUnauthorized
	}
}

// RequestMeeting opens a meeting request, reusing a closed meeting row.
func (e *Engine) RequestMeeting(p *Proposal, existing *VirtualMeeting, role Role, times []time.Time) (*MeetingResult, error) {
	if p == nil {
		return nil, ErrNotFound
	}
	if err := partyRole(role); err != nil {
		return nil, err
	}
	if err := meetingWindowOpen(p); err != nil {
		return nil, err
	}
	if existing.Open() {
		return nil, fmt.Errorf("%w: a meeting is already %s", ErrInvalidTransition, existing.Status)
	}

	now := e.now().UTC()
	if err := validateProposedTimes(times, now); err != nil {
		return nil, err
	}

	var next *VirtualMeeting
	if existing == nil {
		next = &VirtualMeeting{
			ID:         e.ids.ExternalID(now),
			ProposalID: p.ID,
			CreatedAt:  now,
		}
	} else {
		next = existing.Clone()
	}
	next.RequestedBy = role
	next.Status = MeetingRequested
	next.ProposedTimes = normalizeTimes(times)
	next.BookedTime = nil
	next.MeetingLink = ""
	next.ModifiedAt = now
	next.Version++

	return meetingResult(existing, next), nil
}

// RespondMeeting records the counterparty's answer to an open request.
func (e *Engine) RespondMeeting(p *Proposal, m *VirtualMeeting, role Role, resp MeetingResponse) (*MeetingResult, error) {
	if p == nil {
		return nil, ErrNotFound
	}
	if m == nil {
		return nil, ErrMeetingNotFound
	}
	if err := partyRole(role); err != nil {
		return nil, err
	}
	if err := meetingWindowOpen(p); err != nil {
		return nil, err
	}
	if m.Status != MeetingRequested {
		return nil, fmt.Errorf("%w: meeting is %s", ErrInvalidTransition, m.Status)
	}
	if m.RequestedBy == role {
		return nil, fmt.Errorf("%w: the requester cannot answer their own meeting request", ErrInvalidTransition)
	}

	next := m.Clone()
	if resp.Accept {
		if resp.BookedTime == nil {
			return nil, fmt.Errorf("%w: booked_time is required to accept", ErrValidation)
		}
		booked := resp.BookedTime.UTC().Truncate(time.Second)
		if !slices.ContainsFunc(m.ProposedTimes, booked.Equal) {
			return nil, fmt.Errorf("%w: booked_time must be one of the proposed times", ErrValidation)
		}
		next.Status = MeetingAccepted
		next.BookedTime = &booked
		next.MeetingLink = strings.TrimSpace(resp.MeetingLink)
	} else {
		next.Status = MeetingDeclined
	}
	next.ModifiedAt = e.now().UTC()
	next.Version++

	return meetingResult(m, next), nil
}

// CancelMeeting closes an open meeting. Either party may cancel.
func (e *Engine) CancelMeeting(p *Proposal, m *VirtualMeeting, role Role) (*MeetingResult, error) {
	if p == nil {
		return nil, ErrNotFound
	}
	if m == nil {
		return nil, ErrMeetingNotFound
	}
	if err := partyRole(role); err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("%w: proposal %s is deleted", ErrInvalidTransition, p.ID)
	}
	if !m.Open() {
		return nil, fmt.Errorf("%w: meeting is %s", ErrInvalidTransition, m.Status)
	}

	next := m.Clone()
	next.Status = MeetingCancelled
	next.ModifiedAt = e.now().UTC()
	next.Version++

	return meetingResult(m, next), nil
}

func meetingResult(prev, next *VirtualMeeting) *MeetingResult {
	op := OperationUpdate
	payload := next.Snapshot()
	if prev == nil {
		op = OperationInsert
	} else {
		before := prev.Snapshot()
		for k, v := range payload {
			if before[k] == v {
				delete(payload, k)
			}
		}
	}

	return &MeetingResult{
		Previous: prev,
		Meeting:  next,
		Intents: []SyncIntent{{
			Sequence:       1,
			TargetTable:    TableVirtualMeeting,
			TargetRecordID: next.ID,
			Operation:      op,
			Payload:        payload,
		}},
	}
}

func validateProposedTimes(times []time.Time, now time.Time) error {
	if len(times) == 0 || len(times) > maxProposedTimes {
		return fmt.Errorf("%w: between 1 and %d proposed times are required", ErrValidation, maxProposedTimes)
	}
	for _, t := range times {
		if !t.After(now) {
			return fmt.Errorf("%w: proposed times must be in the future", ErrValidation)
		}
	}
	return nil
}

func normalizeTimes(times []time.Time) []time.Time {
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		out = append(out, t.UTC().Truncate(time.Second))
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}
