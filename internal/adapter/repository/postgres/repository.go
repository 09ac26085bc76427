package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/outbox"
)

// ProposalModel is the database DTO with Gorm tags.
type ProposalModel struct {
	ID        string `gorm:"primaryKey;type:varchar(40)"`
	GuestID   string `gorm:"type:varchar(64);not null;index"`
	HostID    string `gorm:"type:varchar(64);not null;index"`
	ListingID string `gorm:"type:varchar(64);not null"`
	Status    string `gorm:"type:varchar(64);not null;index"`

	MoveInDate       time.Time `gorm:"type:date;not null"`
	DaysSelected     string    `gorm:"type:varchar(32);not null"`
	ReservationWeeks int       `gorm:"not null"`
	NightlyRate      int64     `gorm:"not null"`
	TotalPrice       int64     `gorm:"not null"`

	// Counteroffer; all null outside host_counteroffer
	HCMoveInDate       *time.Time `gorm:"type:date"`
	HCDaysSelected     *string    `gorm:"type:varchar(32)"`
	HCReservationWeeks *int
	HCNightlyRate      *int64
	HCTotalPrice       *int64

	ReminderCount                 int    `gorm:"not null;default:0"`
	GuestDocumentsReviewFinalized bool   `gorm:"not null;default:false"`
	HostDocumentsReviewFinalized  bool   `gorm:"not null;default:false"`
	CancellationReason            string `gorm:"type:text"`

	Deleted bool  `gorm:"not null;default:false;index"`
	Version int64 `gorm:"not null"`

	CreatedAt  time.Time
	ModifiedAt time.Time
	AnsweredAt *time.Time
}

func (ProposalModel) TableName() string {
	return "proposals"
}

// MeetingModel stores the single virtual meeting of a proposal.
type MeetingModel struct {
	ID            string `gorm:"primaryKey;type:varchar(40)"`
	ProposalID    string `gorm:"type:varchar(40);not null;uniqueIndex"`
	RequestedBy   string `gorm:"type:varchar(16);not null"`
	Status        string `gorm:"type:varchar(16);not null"`
	ProposedTimes string `gorm:"type:text;not null"`
	BookedTime    *time.Time
	MeetingLink   string `gorm:"type:text"`
	Version       int64  `gorm:"not null"`
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

func (MeetingModel) TableName() string {
	return "virtual_meetings"
}

// Repository implements proposal.Repository. Every commit writes the entity
// and its sync items in one transaction.
type Repository struct {
	db    *gorm.DB
	queue *outbox.Store
}

func NewRepository(db *gorm.DB, queue *outbox.Store) *Repository {
	return &Repository{db: db, queue: queue}
}

func (r *Repository) FindByID(ctx context.Context, id string) (*proposal.Proposal, error) {
	var model ProposalModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: proposal %s", proposal.ErrNotFound, id)
		}
		return nil, err
	}
	return toDomain(model)
}

func (r *Repository) ListByParty(ctx context.Context, userID string, limit int) ([]*proposal.Proposal, error) {
	query := r.db.WithContext(ctx).
		Where("(guest_id = ? OR host_id = ?) AND deleted = ?", userID, userID, false).
		Order("modified_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ProposalModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*proposal.Proposal, 0, len(models))
	for _, model := range models {
		p, err := toDomain(model)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

func (r *Repository) CommitCreate(ctx context.Context, res *proposal.Result, correlationID string) error {
	model := toModel(res.Proposal)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert proposal: %w", err)
		}
		_, err := r.queue.EnqueueTx(tx, correlationID, model.ID, res.Intents)
		return err
	})
}

func (r *Repository) CommitTransition(ctx context.Context, res *proposal.Result, correlationID string) error {
	if res.Previous == nil {
		return fmt.Errorf("commit transition of %s: previous state is required", res.Proposal.ID)
	}
	model := toModel(res.Proposal)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ProposalModel{}).
			Where("id = ? AND version = ?", model.ID, res.Previous.Version).
			Updates(proposalColumns(model))
		if result.Error != nil {
			return fmt.Errorf("update proposal: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return r.missOrConflict(tx, &ProposalModel{}, model.ID, proposal.ErrNotFound)
		}

		_, err := r.queue.EnqueueTx(tx, correlationID, model.ID, res.Intents)
		return err
	})
}

func (r *Repository) FindMeeting(ctx context.Context, proposalID string) (*proposal.VirtualMeeting, error) {
	var model MeetingModel
	if err := r.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return meetingToDomain(model)
}

func (r *Repository) CommitMeeting(ctx context.Context, res *proposal.MeetingResult, correlationID string) error {
	model := meetingToModel(res.Meeting)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res.Previous == nil {
			if err := tx.Create(&model).Error; err != nil {
				// Only one meeting row per proposal: a concurrent first request won.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: meeting for %s was created by another writer", proposal.ErrConcurrentModification, model.ProposalID)
				}
				return fmt.Errorf("insert meeting: %w", err)
			}
		} else {
			result := tx.Model(&MeetingModel{}).
				Where("id = ? AND version = ?", model.ID, res.Previous.Version).
				Updates(meetingColumns(model))
			if result.Error != nil {
				return fmt.Errorf("update meeting: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return r.missOrConflict(tx, &MeetingModel{}, model.ID, proposal.ErrMeetingNotFound)
			}
		}

		_, err := r.queue.EnqueueTx(tx, correlationID, model.ProposalID, res.Intents)
		return err
	})
}

// missOrConflict explains a guarded update that touched no row.
func (r *Repository) missOrConflict(tx *gorm.DB, model any, id string, notFound error) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("%w: %s was changed by another writer", proposal.ErrConcurrentModification, id)
}

// Mappers

func proposalColumns(m ProposalModel) map[string]any {
	return map[string]any{
		"status":                           m.Status,
		"move_in_date":                     m.MoveInDate,
		"days_selected":                    m.DaysSelected,
		"reservation_weeks":                m.ReservationWeeks,
		"nightly_rate":                     m.NightlyRate,
		"total_price":                      m.TotalPrice,
		"hc_move_in_date":                  m.HCMoveInDate,
		"hc_days_selected":                 m.HCDaysSelected,
		"hc_reservation_weeks":             m.HCReservationWeeks,
		"hc_nightly_rate":                  m.HCNightlyRate,
		"hc_total_price":                   m.HCTotalPrice,
		"reminder_count":                   m.ReminderCount,
		"guest_documents_review_finalized": m.GuestDocumentsReviewFinalized,
		"host_documents_review_finalized":  m.HostDocumentsReviewFinalized,
		"cancellation_reason":              m.CancellationReason,
		"deleted":                          m.Deleted,
		"version":                          m.Version,
		"modified_at":                      m.ModifiedAt,
		"answered_at":                      m.AnsweredAt,
	}
}

func meetingColumns(m MeetingModel) map[string]any {
	return map[string]any{
		"requested_by":   m.RequestedBy,
		"status":         m.Status,
		"proposed_times": m.ProposedTimes,
		"booked_time":    m.BookedTime,
		"meeting_link":   m.MeetingLink,
		"version":        m.Version,
		"modified_at":    m.ModifiedAt,
	}
}

func toDomain(m ProposalModel) (*proposal.Proposal, error) {
	days, err := proposal.ParseDaySet(m.DaysSelected)
	if err != nil {
		return nil, fmt.Errorf("proposal %s days_selected: %w", m.ID, err)
	}
	var hcDays proposal.DaySet
	if m.HCDaysSelected != nil {
		if hcDays, err = proposal.ParseDaySet(*m.HCDaysSelected); err != nil {
			return nil, fmt.Errorf("proposal %s hc_days_selected: %w", m.ID, err)
		}
	}

	return &proposal.Proposal{
		ID:                            m.ID,
		GuestID:                       m.GuestID,
		HostID:                        m.HostID,
		ListingID:                     m.ListingID,
		Status:                        proposal.StatusKey(m.Status),
		MoveInDate:                    m.MoveInDate.UTC(),
		DaysSelected:                  days,
		ReservationWeeks:              m.ReservationWeeks,
		NightlyRate:                   m.NightlyRate,
		TotalPrice:                    m.TotalPrice,
		HCMoveInDate:                  utcPtr(m.HCMoveInDate),
		HCDaysSelected:                hcDays,
		HCReservationWeeks:            m.HCReservationWeeks,
		HCNightlyRate:                 m.HCNightlyRate,
		HCTotalPrice:                  m.HCTotalPrice,
		ReminderCount:                 m.ReminderCount,
		GuestDocumentsReviewFinalized: m.GuestDocumentsReviewFinalized,
		HostDocumentsReviewFinalized:  m.HostDocumentsReviewFinalized,
		CancellationReason:            m.CancellationReason,
		Deleted:                       m.Deleted,
		Version:                       m.Version,
		CreatedAt:                     m.CreatedAt.UTC(),
		ModifiedAt:                    m.ModifiedAt.UTC(),
		AnsweredAt:                    utcPtr(m.AnsweredAt),
	}, nil
}

func toModel(d *proposal.Proposal) ProposalModel {
	var hcDays *string
	if d.HCDaysSelected != nil {
		s := d.HCDaysSelected.String()
		hcDays = &s
	}
	return ProposalModel{
		ID:                            d.ID,
		GuestID:                       d.GuestID,
		HostID:                        d.HostID,
		ListingID:                     d.ListingID,
		Status:                        string(d.Status),
		MoveInDate:                    d.MoveInDate,
		DaysSelected:                  d.DaysSelected.String(),
		ReservationWeeks:              d.ReservationWeeks,
		NightlyRate:                   d.NightlyRate,
		TotalPrice:                    d.TotalPrice,
		HCMoveInDate:                  d.HCMoveInDate,
		HCDaysSelected:                hcDays,
		HCReservationWeeks:            d.HCReservationWeeks,
		HCNightlyRate:                 d.HCNightlyRate,
		HCTotalPrice:                  d.HCTotalPrice,
		ReminderCount:                 d.ReminderCount,
		GuestDocumentsReviewFinalized: d.GuestDocumentsReviewFinalized,
		HostDocumentsReviewFinalized:  d.HostDocumentsReviewFinalized,
		CancellationReason:            d.CancellationReason,
		Deleted:                       d.Deleted,
		Version:                       d.Version,
		CreatedAt:                     d.CreatedAt,
		ModifiedAt:                    d.ModifiedAt,
		AnsweredAt:                    d.AnsweredAt,
	}
}

func meetingToDomain(m MeetingModel) (*proposal.VirtualMeeting, error) {
	var times []time.Time
	for _, raw := range strings.Split(m.ProposedTimes, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("meeting %s proposed time %q: %w", m.ID, raw, err)
		}
		times = append(times, t.UTC())
	}

	return &proposal.VirtualMeeting{
		ID:            m.ID,
		ProposalID:    m.ProposalID,
		RequestedBy:   proposal.Role(m.RequestedBy),
		Status:        proposal.MeetingStatus(m.Status),
		ProposedTimes: times,
		BookedTime:    utcPtr(m.BookedTime),
		MeetingLink:   m.MeetingLink,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt.UTC(),
		ModifiedAt:    m.ModifiedAt.UTC(),
	}, nil
}

func meetingToModel(d *proposal.VirtualMeeting) MeetingModel {
	times := make([]string, 0, len(d.ProposedTimes))
	for _, t := range d.ProposedTimes {
		times = append(times, t.UTC().Format(time.RFC3339))
	}
	return MeetingModel{
		ID:            d.ID,
		ProposalID:    d.ProposalID,
		RequestedBy:   string(d.RequestedBy),
		Status:        string(d.Status),
		ProposedTimes: strings.Join(times, ","),
		BookedTime:    d.BookedTime,
		MeetingLink:   d.MeetingLink,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		ModifiedAt:    d.ModifiedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
