package proposal

import (
	"fmt"
	"strings"
	"time"
)

// ReminderCap is the number of remindSplitLease actions a guest may take.
const ReminderCap = 3

// IDGenerator issues externally shareable record identifiers.
type IDGenerator interface {
	ExternalID(at time.Time) string
}

// Payload carries action-specific input. Only the fields the action reads
// are consulted.
type Payload struct {
	Counteroffer *Counteroffer `json:"counteroffer,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// CreateRequest is the input of a new proposal.
type CreateRequest struct {
	GuestID              string
	HostID               string
	ListingID            string
	Terms                Terms
	HasRentalApplication bool
}

// Result is the outcome of a successful transition. Previous is nil on
// creation.
type Result struct {
	Previous *Proposal
	Proposal *Proposal
	Action   Action
	Role     Role
	Diff     Diff
	Intents  []SyncIntent
}

func (r *Result) StatusChanged() bool {
	return r.Previous == nil || r.Previous.Status != r.Proposal.Status
}

// Engine validates and applies lifecycle transitions. It never mutates its
// input and performs no I/O.
type Engine struct {
	ids IDGenerator
	now func() time.Time
}

func NewEngine(ids IDGenerator) *Engine {
	return &Engine{ids: ids, now: time.Now}
}

// WithClock returns a copy of the engine reading time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	c := *e
	c.now = now
	return &c
}

// Suppressed reports whether a flag-based rule withholds an otherwise legal
// action. The visibility calculator hides exactly what this refuses.
func Suppressed(action Action, role Role, flags Flags) bool {
	if flags.Deleted {
		return true
	}
	switch action {
	case ActionRemindSplitLease:
		return flags.ReminderCount >= ReminderCap
	case ActionFinalizeDocumentReview:
		switch role {
		case RoleGuest:
			return flags.GuestDocumentsReviewFinalized
		case RoleHost:
			return flags.HostDocumentsReviewFinalized
		}
	}
	return false
}

// Create builds a new proposal in the entry status for role.
func (e *Engine) Create(req CreateRequest, role Role) (*Result, error) {
	if role == RoleUnauthorized || role == "" {
		return nil, ErrUnauthorized
	}
	status, err := EntryStatus(role, req.HasRentalApplication)
	if err != nil {
		return nil, err
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	p := &Proposal{
		ID:               e.ids.ExternalID(now),
		GuestID:          strings.TrimSpace(req.GuestID),
		HostID:           strings.TrimSpace(req.HostID),
		ListingID:        strings.TrimSpace(req.ListingID),
		Status:           status,
		MoveInDate:       truncateDate(req.Terms.MoveInDate),
		DaysSelected:     req.Terms.DaysSelected.Normalize(),
		ReservationWeeks: req.Terms.ReservationWeeks,
		NightlyRate:      req.Terms.NightlyRate,
		TotalPrice:       req.Terms.TotalPrice,
		Version:          1,
		CreatedAt:        now,
		ModifiedAt:       now,
	}

	diff := DiffOf(nil, p)
	return &Result{
		Proposal: p,
		Action:   ActionCreate,
		Role:     role,
		Diff:     diff,
		Intents:  proposalIntents(nil, p, ActionCreate, role, diff, now),
	}, nil
}

func validateCreate(req CreateRequest) error {
	guest := strings.TrimSpace(req.GuestID)
	host := strings.TrimSpace(req.HostID)
	switch {
	case guest == "":
		return fmt.Errorf("%w: guest_id is required", ErrValidation)
	case host == "":
		return fmt.Errorf("%w: host_id is required", ErrValidation)
	case strings.TrimSpace(req.ListingID) == "":
		return fmt.Errorf("%w: listing_id is required", ErrValidation)
	case guest == host:
		return fmt.Errorf("%w: guest and host must differ", ErrValidation)
	}
	return req.Terms.Validate()
}

// Apply validates action against the proposal's status and the caller's
// role, then returns the next proposal, its diff and the sync intents.
func (e *Engine) Apply(p *Proposal, action Action, role Role, payload Payload) (*Result, error) {
	if p == nil {
		return nil, ErrNotFound
	}
	if role == RoleUnauthorized || role == "" {
		return nil, ErrUnauthorized
	}
	def, err := Lookup(p.Status)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("%w: proposal %s is deleted", ErrInvalidTransition, p.ID)
	}
	target, ok := def.Target(role, action)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot %s in %s", ErrInvalidTransition, role, action, p.Status)
	}
	if Suppressed(action, role, p.Flags()) {
		return nil, fmt.Errorf("%w: %s is no longer offered in %s", ErrInvalidTransition, action, p.Status)
	}

	now := e.now().UTC()
	next := p.Clone()

	switch action {
	case ActionCounteroffer:
		if err := applyCounteroffer(next, payload.Counteroffer); err != nil {
			return nil, err
		}
	case ActionAcceptCounteroffer:
		if !next.HasCounteroffer() {
			return nil, fmt.Errorf("%w: proposal %s holds no counteroffer terms", ErrValidation, p.ID)
		}
		acceptCounteroffer(next)
	case ActionRejectCounteroffer:
		next.clearCounteroffer()
	case ActionRemindSplitLease:
		next.ReminderCount++
	case ActionFinalizeDocumentReview:
		if role == RoleGuest {
			next.GuestDocumentsReviewFinalized = true
		} else {
			next.HostDocumentsReviewFinalized = true
		}
	case ActionCancel, ActionCancelBySystem, ActionReject:
		next.CancellationReason = strings.TrimSpace(payload.Reason)
		next.clearCounteroffer()
	case ActionDeleteProposal:
		next.Deleted = true
	}

	if answersProposal(role, action) && next.AnsweredAt == nil {
		answered := now
		next.AnsweredAt = &answered
	}

	next.Status = target
	next.ModifiedAt = now
	next.Version = p.Version + 1

	diff := DiffOf(p, next)
	return &Result{
		Previous: p,
		Proposal: next,
		Action:   action,
		Role:     role,
		Diff:     diff,
		Intents:  proposalIntents(p, next, action, role, diff, now),
	}, nil
}

func answersProposal(role Role, action Action) bool {
	if role != RoleHost {
		return false
	}
	switch action {
	case ActionAccept, ActionCounteroffer, ActionReject:
		return true
	}
	return false
}

// applyCounteroffer stores the host terms. At least one present field must
// differ from the primary terms.
func applyCounteroffer(p *Proposal, co *Counteroffer) error {
	if co == nil {
		return fmt.Errorf("%w: counteroffer terms are required", ErrValidation)
	}

	changed := false
	if co.MoveInDate != nil {
		if co.MoveInDate.IsZero() {
			return fmt.Errorf("%w: move_in_date must not be empty", ErrValidation)
		}
		d := truncateDate(*co.MoveInDate)
		if !d.Equal(truncateDate(p.MoveInDate)) {
			changed = true
		}
		p.HCMoveInDate = &d
	}
	if co.DaysSelected != nil {
		if err := co.DaysSelected.Validate(); err != nil {
			return err
		}
		if !co.DaysSelected.Equal(p.DaysSelected) {
			changed = true
		}
		p.HCDaysSelected = co.DaysSelected.Normalize()
	}
	if co.ReservationWeeks != nil {
		if *co.ReservationWeeks <= 0 {
			return fmt.Errorf("%w: reservation_weeks must be positive", ErrValidation)
		}
		if *co.ReservationWeeks != p.ReservationWeeks {
			changed = true
		}
		p.HCReservationWeeks = clonePtr(co.ReservationWeeks)
	}
	if co.NightlyRate != nil {
		if *co.NightlyRate <= 0 {
			return fmt.Errorf("%w: nightly_rate must be positive", ErrValidation)
		}
		if *co.NightlyRate != p.NightlyRate {
			changed = true
		}
		p.HCNightlyRate = clonePtr(co.NightlyRate)
	}
	if co.TotalPrice != nil {
		if *co.TotalPrice < 0 {
			return fmt.Errorf("%w: total_price must not be negative", ErrValidation)
		}
		if *co.TotalPrice != p.TotalPrice {
			changed = true
		}
		p.HCTotalPrice = clonePtr(co.TotalPrice)
	}

	if !changed {
		return fmt.Errorf("%w: counteroffer must change at least one term", ErrValidation)
	}
	return nil
}

func acceptCounteroffer(p *Proposal) {
	if p.HCMoveInDate != nil {
		p.MoveInDate = *p.HCMoveInDate
	}
	if p.HCDaysSelected != nil {
		p.DaysSelected = p.HCDaysSelected.Normalize()
	}
	if p.HCReservationWeeks != nil {
		p.ReservationWeeks = *p.HCReservationWeeks
	}
	if p.HCNightlyRate != nil {
		p.NightlyRate = *p.HCNightlyRate
	}
	if p.HCTotalPrice != nil {
		p.TotalPrice = *p.HCTotalPrice
	}
	p.clearCounteroffer()
}

func truncateDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
