/*
Package account provides user registration, login and token authentication.

PURPOSE:
  Owns everything about who a user is. The credit engine only ever sees a
  credit.UserID; this package turns credentials and bearer tokens into one.

RULES:
  Usernames are 3-20 characters of letters, digits and underscores, with no
  consecutive underscores, and are unique. Passwords are stored as bcrypt
  hashes. New users are ACTIVE; INACTIVE users cannot authenticate.

SEE ALSO:
  - token.go:     JWT issue/verify
  - api/auth.go:  Bearer middleware
*/
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credit"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserInactive       = errors.New("user is inactive")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Service registers and authenticates users.
type Service struct {
	users      credit.UserStore
	tokens     *Tokens
	bcryptCost int
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a Service. A bcryptCost outside bcrypt's range uses
// bcrypt.DefaultCost.
func NewService(users credit.UserStore, tokens *Tokens, bcryptCost int, log zerolog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		log:        log.With().Str("component", "account").Logger(),
		now:        time.Now,
	}
}

// ValidateUsername checks the username rules in order and reports the first
// violation.
func ValidateUsername(username string) error {
	invalid := func(msg string) error { return &credit.ValidationError{Message: msg} }

	if strings.TrimSpace(username) == "" {
		return invalid("Username cannot be empty.")
	}
	if n := len(username); n < 3 || n > 20 {
		return invalid("Username must be between 3 and 20 characters long.")
	}
	if !usernamePattern.MatchString(username) {
		return invalid("Username can only contain letters, numbers, and underscores.")
	}
	if strings.Contains(username, "__") {
		return invalid("Username cannot contain consecutive underscores.")
	}
	return nil
}

// Register creates an ACTIVE user.
func (s *Service) Register(ctx context.Context, username, password string) (*credit.User, error) {
	existing, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, credit.NewStoreError("lookup user", err)
	}
	if existing != nil {
		return nil, credit.ErrUsernameTaken
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &credit.ValidationError{Message: "Password cannot be empty."}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, &credit.ValidationError{Message: "Password must be at most 72 bytes long."}
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := credit.User{
		ID:           credit.UserID(uuid.NewString()),
		Username:     username,
		PasswordHash: string(hash),
		Status:       credit.StatusActive,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, credit.NewStoreError("create user", err)
	}

	s.log.Info().Str("user_id", string(u.ID)).Str("username", username).Msg("user registered")
	return &u, nil
}

// Login verifies credentials and returns a signed token. Unknown usernames
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return "", credit.NewStoreError("lookup user", err)
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.log.Debug().Str("username", username).Msg("password mismatch")
		return "", ErrInvalidCredentials
	}
	if u.Status != credit.StatusActive {
		return "", ErrUserInactive
	}
	return s.tokens.Generate(*u)
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*credit.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.UserByID(ctx, credit.UserID(claims.Subject))
	if err != nil {
		return nil, credit.NewStoreError("lookup user", err)
	}
	if u == nil {
		return nil, ErrInvalidToken
	}
	if u.Status != credit.StatusActive {
		return nil, ErrUserInactive
	}
	return u, nil
}
