package operators

import (
	"context"
	"testing"

	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "correct horse battery", auth.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.NotEqual(t, "correct horse battery", account.PasswordHash)

	op, err := svc.Authenticate(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, account.ID, op.ID)
	assert.Equal(t, auth.RoleOperator, op.Role)
	assert.True(t, op.Elevated())
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery", auth.RoleOperator)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	// Unknown usernames fail the same way as bad passwords.
	_, err = svc.Authenticate(ctx, "mallory", "whatever")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "password-one", auth.RoleViewer)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "password-two", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Register(context.Background(), "alice", "pw", "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestDelete(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "password-one", auth.RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, account.ID))
	assert.ErrorIs(t, svc.Delete(ctx, account.ID), ErrOperatorNotFound)
}
