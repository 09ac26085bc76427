package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitlease/proposal-sync/pkg/testhelper"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(testhelper.NewSQLiteDB(t, &User{}), &testhelper.SequentialIDs{})
}

func TestEnsureUser_ProvisionsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	first, err := s.EnsureUser(ctx, "auth|123", "Guest@Example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ExternalUserID)
	assert.NotEqual(t, first.AuthID, first.ExternalUserID)
	assert.Equal(t, "guest@example.com", first.Email)

	again, err := s.EnsureUser(ctx, "auth|123", "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ExternalUserID, again.ExternalUserID)

	_, err = s.EnsureUser(ctx, " ", "x@example.com")
	assert.Error(t, err)
}

func TestEnsureUser_AdoptsLegacyUser(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	legacy, err := s.ImportLegacyUser(ctx, "1700000000000x123456789012345678", "host@example.com")
	require.NoError(t, err)

	linked, err := s.EnsureUser(ctx, "auth|host", "HOST@example.com")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, linked.ID)
	assert.Equal(t, "1700000000000x123456789012345678", linked.ExternalUserID)

	external, err := s.ExternalUserID(ctx, "auth|host")
	require.NoError(t, err)
	assert.Equal(t, legacy.ExternalUserID, external)
}

func TestExternalUserID_Unknown(t *testing.T) {
	s := newTestService(t)
	_, err := s.ExternalUserID(context.Background(), "auth|nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
