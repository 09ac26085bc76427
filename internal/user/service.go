package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// User links the identity provider subject to the marketplace user
// identifier that proposals reference as guest or host.
type User struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	AuthID         string `gorm:"type:varchar(255);uniqueIndex;not null"`
	ExternalUserID string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email          string `gorm:"type:varchar(255);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (User) TableName() string {
	return "users"
}

var ErrUserNotFound = errors.New("user not found")

// IDGenerator issues the local primary key and new marketplace identifiers.
type IDGenerator interface {
	GenerateID() int64
	ExternalID(at time.Time) string
}

type Service struct {
	db  *gorm.DB
	ids IDGenerator
}

func NewService(db *gorm.DB, ids IDGenerator) *Service {
	return &Service{db: db, ids: ids}
}

// EnsureUser returns the user bound to authID. A first login adopts an
// unlinked row with the same email (users migrated from the legacy system)
// and otherwise provisions a new marketplace identity.
func (s *Service) EnsureUser(ctx context.Context, authID, email string) (*User, error) {
	authID = strings.TrimSpace(authID)
	email = strings.ToLower(strings.TrimSpace(email))
	if authID == "" {
		return nil, fmt.Errorf("auth id is required")
	}

	returnValue := &User{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User

		err := tx.Where("auth_id = ?", authID).First(&user).Error
		if err == nil {
			*returnValue = user
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if email != "" {
			err = tx.Where("email = ? AND auth_id LIKE ?", email, "legacy:%").First(&user).Error
			if err == nil {
				user.AuthID = authID
				user.UpdatedAt = time.Now().UTC()
				if err := tx.Save(&user).Error; err != nil {
					return err
				}
				*returnValue = user
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		now := time.Now().UTC()
		user = User{
			ID:             s.ids.GenerateID(),
			AuthID:         authID,
			ExternalUserID: s.ids.ExternalID(now),
			Email:          email,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		*returnValue = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return returnValue, nil
}

// ExternalUserID maps an identity provider subject to its marketplace
// identifier. It is the only bridge between the two key spaces.
func (s *Service) ExternalUserID(ctx context.Context, authID string) (string, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, authID)
		}
		return "", err
	}
	return user.ExternalUserID, nil
}

// ImportLegacyUser registers a marketplace user that has not logged in yet.
// Its auth id stays a "legacy:" placeholder until EnsureUser links it.
func (s *Service) ImportLegacyUser(ctx context.Context, externalUserID, email string) (*User, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, fmt.Errorf("external user id is required")
	}
	now := time.Now().UTC()
	user := User{
		ID:             s.ids.GenerateID(),
		AuthID:         "legacy:" + externalUserID,
		ExternalUserID: externalUserID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
