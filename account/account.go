// Package account decides whether an authenticated identity is a new
// account or a returning one, and records every decision in the login
// ledger.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
	"golang.org/x/crypto/bcrypt"
)

type (
	// Ledger is the subset of *ledger.Store used by the resolver.
	Ledger interface {
		FindByEmail(ctx context.Context, email string) (*ledger.User, error)
		FindByUsername(ctx context.Context, username string) (*ledger.User, error)
		FindByUsernameOrEmail(ctx context.Context, username, email string) (*ledger.User, error)
		CreateUser(ctx context.Context, u *ledger.User) error
		AppendEvent(ctx context.Context, ev *ledger.Event) error
	}

	Service struct {
		store   Ledger
		metrics *Metrics
	}
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
)

func New(store Ledger, metrics *Metrics) *Service {
	return &Service{store: store, metrics: metrics}
}

// Resolve looks up the canonical identity by email. Unknown identities are
// persisted and resolved as a signup, known ones as a login. Either way
// exactly one event is appended to the ledger.
//
// The returned user is the persisted record.
func (s *Service) Resolve(ctx context.Context, u ledger.User) (ledger.User, ledger.Action, error) {
	log := logutil.GetOrDefault(ctx).With().Str("email", u.Email).Str("provider", string(u.Provider)).Logger()
	action := ledger.Login
	resolved, err := s.store.FindByEmail(ctx, u.Email)
	var notFound ledger.UserNotFound
	switch {
	case errors.As(err, &notFound):
		action = ledger.Signup
		err = s.store.CreateUser(ctx, &u)
		var exists ledger.UserExists
		if errors.As(err, &exists) {
			// lost a race against another request for the same email
			action = ledger.Login
			resolved, err = s.store.FindByEmail(ctx, u.Email)
		} else {
			resolved = &u
		}
		if err != nil {
			return ledger.User{}, "", err
		}
	case err != nil:
		return ledger.User{}, "", err
	}

	if err := s.record(ctx, u, action); err != nil {
		return ledger.User{}, "", err
	}
	if action == ledger.Signup {
		log.Info().Str("user_id", resolved.ID).Msg("User registered")
	} else {
		log.Info().Str("user_id", resolved.ID).Msg("User logged in")
	}
	return *resolved, action, nil
}

// record appends the ledger entry of a successful authentication of u.
func (s *Service) record(ctx context.Context, u ledger.User, action ledger.Action) error {
	err := s.store.AppendEvent(ctx, &ledger.Event{
		Email:    u.Email,
		Username: u.Username,
		Provider: u.Provider,
		Action:   action,
	})
	if err != nil {
		return err
	}
	s.metrics.event(u.Provider, action)
	return nil
}

// SignupLocal registers a local account. Both the username and the email
// must be free.
func (s *Service) SignupLocal(ctx context.Context, username, email, password string) (ledger.User, error) {
	if password == "" {
		return ledger.User{}, identity.ErrMissingField
	}
	u, err := identity.FromLocal(username, email)
	if err != nil {
		return ledger.User{}, err
	}
	_, err = s.store.FindByUsernameOrEmail(ctx, u.Username, u.Email)
	var notFound ledger.UserNotFound
	if err == nil {
		s.metrics.failure("user_exists")
		return ledger.User{}, ledger.UserExists{Email: u.Email, Username: u.Username}
	} else if !errors.As(err, &notFound) {
		return ledger.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return ledger.User{}, fmt.Errorf("unable to hash password for %v, cause %w", u.Username, err)
	}
	u.PasswordHash = sql.NullString{String: string(hash), Valid: true}
	// a concurrent signup for the same email is rejected, never resolved
	// as a login
	err = s.store.CreateUser(ctx, &u)
	var exists ledger.UserExists
	if errors.As(err, &exists) {
		s.metrics.failure("user_exists")
		return ledger.User{}, exists
	} else if err != nil {
		return ledger.User{}, err
	}
	if err := s.record(ctx, u, ledger.Signup); err != nil {
		return ledger.User{}, err
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("email", u.Email).Str("provider", string(u.Provider)).Str("user_id", u.ID).Msg("User registered")
	return u, nil
}

// LoginLocal checks the credentials of a local account and records the
// login.
func (s *Service) LoginLocal(ctx context.Context, username, password string) (ledger.User, error) {
	u, err := s.store.FindByUsername(ctx, username)
	var notFound ledger.UserNotFound
	if errors.As(err, &notFound) {
		s.metrics.failure("unknown_user")
		return ledger.User{}, ErrInvalidCredentials
	} else if err != nil {
		return ledger.User{}, err
	}
	if !u.HasPassword() {
		s.metrics.failure("federated_user")
		return ledger.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash.String), []byte(password)); err != nil {
		s.metrics.failure("wrong_password")
		return ledger.User{}, ErrInvalidCredentials
	}
	resolved, _, err := s.Resolve(ctx, *u)
	return resolved, err
}
