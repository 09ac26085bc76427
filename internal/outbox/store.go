package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
)

var (
	ErrItemNotFound = errors.New("sync item not found")
	ErrItemState    = errors.New("sync item is not in the required state")
	ErrLeaseLost    = errors.New("sync item lease was lost")
)

const leaseExpiredFinalMessage = "lease expired after final attempt"

// IDGenerator issues sync item primary keys.
type IDGenerator interface {
	GenerateID() int64
}

// Store owns every read and write of sync_queue_items. Items are appended
// inside the caller's transaction and otherwise mutated only by the drain.
type Store struct {
	db  *gorm.DB
	ids IDGenerator
	now func() time.Time
}

func NewStore(db *gorm.DB, ids IDGenerator) *Store {
	return &Store{db: db, ids: ids, now: func() time.Time { return time.Now().UTC() }}
}

// EnqueueTx appends the intents of one change as a correlation group using
// tx, so the items commit or roll back with the change itself.
func (s *Store) EnqueueTx(tx *gorm.DB, correlationID, proposalID string, intents []proposal.SyncIntent) ([]Item, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id is required")
	}
	if len(intents) == 0 {
		return nil, nil
	}

	now := s.now()
	items := make([]Item, 0, len(intents))
	for _, intent := range intents {
		payload, err := json.Marshal(intent.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode sync payload for %s/%s: %w", intent.TargetTable, intent.TargetRecordID, err)
		}
		items = append(items, Item{
			ID:             s.ids.GenerateID(),
			CorrelationID:  correlationID,
			Sequence:       intent.Sequence,
			ProposalID:     proposalID,
			TargetTable:    intent.TargetTable,
			TargetRecordID: intent.TargetRecordID,
			Operation:      string(intent.Operation),
			Payload:        payload,
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := tx.Create(&items).Error; err != nil {
		return nil, fmt.Errorf("insert sync items: %w", err)
	}
	return items, nil
}

// ClaimDue leases up to limit pending items that are due and whose every
// lower-sequence sibling is already delivered. An item also waits behind
// any older undelivered item of the same proposal, so consecutive changes
// to one proposal reach the mirror in commit order even though each commit
// is its own group. Claimed items move to in_flight and their attempt count
// is incremented.
func (s *Store) ClaimDue(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]Item, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}

	var items []Item
	now := s.now()
	leaseExpiresAt := now.Add(leaseTTL)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT i.* FROM sync_queue_items AS i
			 WHERE i.status = ?
			   AND (i.next_retry_at IS NULL OR i.next_retry_at <= ?)
			   AND NOT EXISTS (
			     SELECT 1 FROM sync_queue_items AS p
			      WHERE p.correlation_id = i.correlation_id
			        AND p.sequence < i.sequence
			        AND p.status <> ?
			   )
			   AND NOT EXISTS (
			     SELECT 1 FROM sync_queue_items AS o
			      WHERE o.proposal_id = i.proposal_id
			        AND o.id < i.id
			        AND o.status <> ?
			   )
			 ORDER BY i.id ASC
			 LIMIT ?`
		if tx.Dialector.Name() == "postgres" {
			query += ` FOR UPDATE OF i SKIP LOCKED`
		}

		if err := tx.Raw(query, StatusPending, now, StatusDelivered, StatusDelivered, limit).Scan(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(items))
		for i := range items {
			ids = append(ids, items[i].ID)
			items[i].Status = StatusInFlight
			items[i].AttemptCount++
			items[i].LastAttemptAt = &now
			items[i].LeaseOwner = owner
			items[i].LeaseExpiresAt = &leaseExpiresAt
		}

		return tx.Model(&Item{}).
			Where("id IN ? AND status = ?", ids, StatusPending).
			Updates(map[string]any{
				"status":           StatusInFlight,
				"attempt_count":    gorm.Expr("attempt_count + 1"),
				"last_attempt_at":  now,
				"lease_owner":      owner,
				"lease_expires_at": leaseExpiresAt,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim sync items: %w", err)
	}
	return items, nil
}

// MarkDelivered completes an item still leased by owner.
func (s *Store) MarkDelivered(ctx context.Context, id int64, owner string) error {
	now := s.now()
	return s.finishLease(ctx, id, owner, map[string]any{
		"status":           StatusDelivered,
		"delivered_at":     now,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       "",
		"updated_at":       now,
	})
}

// MarkRetry returns an item to pending, due again at next.
func (s *Store) MarkRetry(ctx context.Context, id int64, owner string, next time.Time, cause error) error {
	return s.finishLease(ctx, id, owner, map[string]any{
		"status":           StatusPending,
		"next_retry_at":    next.UTC(),
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       errorText(cause),
		"updated_at":       s.now(),
	})
}

// MarkFailedPermanent parks an item until an operator requeues or resolves
// it. Its successors stay blocked meanwhile.
func (s *Store) MarkFailedPermanent(ctx context.Context, id int64, owner string, cause error) error {
	return s.finishLease(ctx, id, owner, map[string]any{
		"status":           StatusFailedPermanent,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       errorText(cause),
		"updated_at":       s.now(),
	})
}

func (s *Store) finishLease(ctx context.Context, id int64, owner string, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, StatusInFlight, owner).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: item %d", ErrLeaseLost, id)
	}
	return nil
}

// RecoverExpiredLeases returns in_flight items whose lease ran out to
// pending. Items that already used maxAttempts are parked instead and
// returned, so the caller can raise the same alert a failed delivery does.
func (s *Store) RecoverExpiredLeases(ctx context.Context, maxAttempts int) (requeued int64, parked []Item, err error) {
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Where("status = ? AND lease_expires_at < ? AND attempt_count >= ?", StatusInFlight, now, maxAttempts)
		if tx.Dialector.Name() == "postgres" {
			expired = expired.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := expired.Order("id asc").Find(&parked).Error; err != nil {
			return err
		}

		if len(parked) > 0 {
			ids := make([]int64, 0, len(parked))
			for i := range parked {
				ids = append(ids, parked[i].ID)
				parked[i].Status = StatusFailedPermanent
				parked[i].LeaseOwner = ""
				parked[i].LeaseExpiresAt = nil
				parked[i].LastError = leaseExpiredFinalMessage
				parked[i].UpdatedAt = now
			}
			res := tx.Model(&Item{}).
				Where("id IN ? AND status = ?", ids, StatusInFlight).
				Updates(map[string]any{
					"status":           StatusFailedPermanent,
					"lease_owner":      "",
					"lease_expires_at": nil,
					"last_error":       leaseExpiredFinalMessage,
					"updated_at":       now,
				})
			if res.Error != nil {
				return res.Error
			}
		}

		res := tx.Model(&Item{}).
			Where("status = ? AND lease_expires_at < ?", StatusInFlight, now).
			Updates(map[string]any{
				"status":           StatusPending,
				"next_retry_at":    now,
				"lease_owner":      "",
				"lease_expires_at": nil,
				"last_error":       "lease expired",
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return requeued, parked, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
		return nil, err
	}
	return &item, nil
}

// ListFailed returns items parked in failed_permanent, oldest first.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]Item, error) {
	query := s.db.WithContext(ctx).Where("status = ?", StatusFailedPermanent).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []Item
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListGroup returns a correlation group in sequence order.
func (s *Store) ListGroup(ctx context.Context, correlationID string) ([]Item, error) {
	var items []Item
	if err := s.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("sequence asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListByProposal returns the most recent items written for a proposal.
func (s *Store) ListByProposal(ctx context.Context, proposalID string, limit int) ([]Item, error) {
	query := s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []Item
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Requeue gives a parked item a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.operatorUpdate(ctx, id, map[string]any{
		"status":        StatusPending,
		"attempt_count": 0,
		"next_retry_at": nil,
		"updated_at":    s.now(),
	})
}

// Resolve marks a parked item delivered by hand, unblocking its successors.
func (s *Store) Resolve(ctx context.Context, id int64, operator string) error {
	if operator == "" {
		return fmt.Errorf("operator is required")
	}
	now := s.now()
	return s.operatorUpdate(ctx, id, map[string]any{
		"status":       StatusDelivered,
		"delivered_at": now,
		"resolved_by":  operator,
		"updated_at":   now,
	})
}

func (s *Store) operatorUpdate(ctx context.Context, id int64, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND status = ?", id, StatusFailedPermanent).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: item %d is %s", ErrItemState, id, item.Status)
}

// CountByStatus returns the number of items per status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&Item{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := map[Status]int64{
		StatusPending:         0,
		StatusInFlight:        0,
		StatusDelivered:       0,
		StatusFailedPermanent: 0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
