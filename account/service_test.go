package account

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/credit"
	"github.com/warp/credit-ledger/credit/store"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	users := store.NewMemory()
	tokens := NewTokens("test-secret", "credit-ledger", time.Hour)
	return NewService(users, tokens, bcrypt.MinCost, zerolog.Nop()), users
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		want     string
	}{
		{"", "Username cannot be empty."},
		{"   ", "Username cannot be empty."},
		{"ab", "Username must be between 3 and 20 characters long."},
		{"abcdefghijklmnopqrstu", "Username must be between 3 and 20 characters long."},
		{"bad-name", "Username can only contain letters, numbers, and underscores."},
		{"bad__name", "Username cannot contain consecutive underscores."},
		{"good_name_1", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.ErrorIs(t, err, credit.ErrInvalidRequest)
		})
	}
}

func TestRegister(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusActive, u.Status)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	stored, err := users.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret")))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "one")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "two")
	assert.ErrorIs(t, err, credit.ErrUsernameTaken)
}

func TestRegister_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "x", "pw")
	assert.ErrorIs(t, err, credit.ErrInvalidRequest)

	_, err = svc.Register(ctx, "alice", "")
	assert.ErrorIs(t, err, credit.ErrInvalidRequest)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, u.ID)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown user looks like a bad password")
}

func TestAuthenticate_InactiveUser(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	u := credit.User{ID: "u-inactive", Username: "ghost", Status: credit.StatusInactive}
	require.NoError(t, users.CreateUser(ctx, u))

	token, err := svc.tokens.Generate(u)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestAuthenticate_UnknownSubject(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.tokens.Generate(credit.User{ID: "missing", Username: "missing"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", "issuer", time.Hour)
	tokens.now = func() time.Time { return now }

	token, err := tokens.Generate(credit.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	claims, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)

	t.Run("expired", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		defer func() { now = now.Add(-2 * time.Hour) }()
		_, err := tokens.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens("other", "issuer", time.Hour)
		other.now = tokens.now
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokens("secret", "someone-else", time.Hour)
		other.now = tokens.now
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
