package proposal

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DaySet is a selection of weekdays, kept sorted and unique.
type DaySet []time.Weekday

// ParseDaySet parses the persisted "1,2,3" form.
func ParseDaySet(raw string) (DaySet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make(DaySet, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", part, err)
		}
		out = append(out, time.Weekday(n))
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out.Normalize(), nil
}

func (d DaySet) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("%w: at least one day must be selected", ErrValidation)
	}
	seen := map[time.Weekday]bool{}
	for _, day := range d {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: day %d out of range", ErrValidation, day)
		}
		if seen[day] {
			return fmt.Errorf("%w: day %d selected twice", ErrValidation, day)
		}
		seen[day] = true
	}
	return nil
}

func (d DaySet) Normalize() DaySet {
	if d == nil {
		return nil
	}
	out := slices.Clone(d)
	slices.Sort(out)
	return slices.Compact(out)
}

func (d DaySet) String() string {
	parts := make([]string, 0, len(d))
	for _, day := range d.Normalize() {
		parts = append(parts, strconv.Itoa(int(day)))
	}
	return strings.Join(parts, ",")
}

func (d DaySet) Equal(other DaySet) bool {
	return slices.Equal(d.Normalize(), other.Normalize())
}

// Terms are the schedule and pricing terms of an offer. Prices are minor
// currency units computed by the pricing collaborator and stored as given.
type Terms struct {
	MoveInDate       time.Time `json:"move_in_date"`
	DaysSelected     DaySet    `json:"days_selected"`
	ReservationWeeks int       `json:"reservation_weeks"`
	NightlyRate      int64     `json:"nightly_rate"`
	TotalPrice       int64     `json:"total_price"`
}

func (t Terms) Validate() error {
	if t.MoveInDate.IsZero() {
		return fmt.Errorf("%w: move_in_date is required", ErrValidation)
	}
	if err := t.DaysSelected.Validate(); err != nil {
		return err
	}
	if t.ReservationWeeks <= 0 {
		return fmt.Errorf("%w: reservation_weeks must be positive", ErrValidation)
	}
	if t.NightlyRate <= 0 {
		return fmt.Errorf("%w: nightly_rate must be positive", ErrValidation)
	}
	if t.TotalPrice < 0 {
		return fmt.Errorf("%w: total_price must not be negative", ErrValidation)
	}
	return nil
}

// Counteroffer holds host-proposed terms. Nil fields are absent.
type Counteroffer struct {
	MoveInDate       *time.Time `json:"move_in_date,omitempty"`
	DaysSelected     DaySet     `json:"days_selected,omitempty"`
	ReservationWeeks *int       `json:"reservation_weeks,omitempty"`
	NightlyRate      *int64     `json:"nightly_rate,omitempty"`
	TotalPrice       *int64     `json:"total_price,omitempty"`
}

// Proposal is the negotiable booking request between a guest and a host.
// Every field is flat and independently nullable so diffs stay simple.
type Proposal struct {
	ID        string    `json:"id"`
	GuestID   string    `json:"guest_id"`
	HostID    string    `json:"host_id"`
	ListingID string    `json:"listing_id"`
	Status    StatusKey `json:"status"`

	MoveInDate       time.Time `json:"move_in_date"`
	DaysSelected     DaySet    `json:"days_selected"`
	ReservationWeeks int       `json:"reservation_weeks"`
	NightlyRate      int64     `json:"nightly_rate"`
	TotalPrice       int64     `json:"total_price"`

	HCMoveInDate       *time.Time `json:"hc_move_in_date,omitempty"`
	HCDaysSelected     DaySet     `json:"hc_days_selected,omitempty"`
	HCReservationWeeks *int       `json:"hc_reservation_weeks,omitempty"`
	HCNightlyRate      *int64     `json:"hc_nightly_rate,omitempty"`
	HCTotalPrice       *int64     `json:"hc_total_price,omitempty"`

	ReminderCount                 int    `json:"reminder_count"`
	GuestDocumentsReviewFinalized bool   `json:"guest_documents_review_finalized"`
	HostDocumentsReviewFinalized  bool   `json:"host_documents_review_finalized"`
	CancellationReason            string `json:"cancellation_reason,omitempty"`

	Deleted bool  `json:"deleted"`
	Version int64 `json:"version"`

	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.DaysSelected = slices.Clone(p.DaysSelected)
	c.HCDaysSelected = slices.Clone(p.HCDaysSelected)
	c.HCMoveInDate = clonePtr(p.HCMoveInDate)
	c.HCReservationWeeks = clonePtr(p.HCReservationWeeks)
	c.HCNightlyRate = clonePtr(p.HCNightlyRate)
	c.HCTotalPrice = clonePtr(p.HCTotalPrice)
	c.AnsweredAt = clonePtr(p.AnsweredAt)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (p *Proposal) Terms() Terms {
	return Terms{
		MoveInDate:       p.MoveInDate,
		DaysSelected:     p.DaysSelected,
		ReservationWeeks: p.ReservationWeeks,
		NightlyRate:      p.NightlyRate,
		TotalPrice:       p.TotalPrice,
	}
}

// Counteroffer returns the host-proposed terms, or nil when none are held.
func (p *Proposal) Counteroffer() *Counteroffer {
	if !p.HasCounteroffer() {
		return nil
	}
	return &Counteroffer{
		MoveInDate:       clonePtr(p.HCMoveInDate),
		DaysSelected:     slices.Clone(p.HCDaysSelected),
		ReservationWeeks: clonePtr(p.HCReservationWeeks),
		NightlyRate:      clonePtr(p.HCNightlyRate),
		TotalPrice:       clonePtr(p.HCTotalPrice),
	}
}

func (p *Proposal) HasCounteroffer() bool {
	return p.HCMoveInDate != nil ||
		p.HCDaysSelected != nil ||
		p.HCReservationWeeks != nil ||
		p.HCNightlyRate != nil ||
		p.HCTotalPrice != nil
}

func (p *Proposal) clearCounteroffer() {
	p.HCMoveInDate = nil
	p.HCDaysSelected = nil
	p.HCReservationWeeks = nil
	p.HCNightlyRate = nil
	p.HCTotalPrice = nil
}

// Flags returns the ancillary state the visibility calculator consumes.
func (p *Proposal) Flags() Flags {
	return Flags{
		ReminderCount:                 p.ReminderCount,
		GuestDocumentsReviewFinalized: p.GuestDocumentsReviewFinalized,
		HostDocumentsReviewFinalized:  p.HostDocumentsReviewFinalized,
		Deleted:                       p.Deleted,
	}
}

// proposalFields lists the externally mirrored fields in a stable order.
var proposalFields = []string{
	"guest_id",
	"host_id",
	"listing_id",
	"status",
	"move_in_date",
	"days_selected",
	"reservation_weeks",
	"nightly_rate",
	"total_price",
	"hc_move_in_date",
	"hc_days_selected",
	"hc_reservation_weeks",
	"hc_nightly_rate",
	"hc_total_price",
	"reminder_count",
	"guest_documents_review_finalized",
	"host_documents_review_finalized",
	"cancellation_reason",
	"deleted",
	"created_at",
	"modified_at",
	"answered_at",
}

// Snapshot renders the mirrored fields as comparable scalar values.
// Absent values are nil.
func (p *Proposal) Snapshot() map[string]any {
	return map[string]any{
		"guest_id":                         p.GuestID,
		"host_id":                          p.HostID,
		"listing_id":                       p.ListingID,
		"status":                           string(p.Status),
		"move_in_date":                     formatDate(&p.MoveInDate),
		"days_selected":                    formatDays(p.DaysSelected),
		"reservation_weeks":                p.ReservationWeeks,
		"nightly_rate":                     p.NightlyRate,
		"total_price":                      p.TotalPrice,
		"hc_move_in_date":                  formatDate(p.HCMoveInDate),
		"hc_days_selected":                 formatDays(p.HCDaysSelected),
		"hc_reservation_weeks":             derefAny(p.HCReservationWeeks),
		"hc_nightly_rate":                  derefAny(p.HCNightlyRate),
		"hc_total_price":                   derefAny(p.HCTotalPrice),
		"reminder_count":                   p.ReminderCount,
		"guest_documents_review_finalized": p.GuestDocumentsReviewFinalized,
		"host_documents_review_finalized":  p.HostDocumentsReviewFinalized,
		"cancellation_reason":              nullableString(p.CancellationReason),
		"deleted":                          p.Deleted,
		"created_at":                       formatTimestamp(&p.CreatedAt),
		"modified_at":                      formatTimestamp(&p.ModifiedAt),
		"answered_at":                      formatTimestamp(p.AnsweredAt),
	}
}

// Diff is a set of changed fields keyed by their mirrored name. A nil value
// clears the field.
type Diff map[string]any

// DiffOf returns the fields that differ between before and after. A nil
// before yields the full snapshot of after.
func DiffOf(before, after *Proposal) Diff {
	next := after.Snapshot()
	if before == nil {
		return Diff(next)
	}
	prev := before.Snapshot()
	diff := Diff{}
	for _, field := range proposalFields {
		if prev[field] != next[field] {
			diff[field] = next[field]
		}
	}
	return diff
}

func (d Diff) Fields() []string {
	out := make([]string, 0, len(d))
	for _, field := range proposalFields {
		if _, ok := d[field]; ok {
			out = append(out, field)
		}
	}
	return out
}

func formatDate(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

func formatTimestamp(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDays(d DaySet) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func derefAny[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
