// Package identity turns what an authentication source asserts about a
// user into the canonical record kept by the ledger.
//
// A Profile holds facts only. Deciding whether the identity is new or a
// returning one is the job of the account package.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrebq/doorman/ledger"
)

type (
	// Profile is what a federated provider returned after a successful
	// handshake.
	Profile struct {
		Provider    ledger.Provider
		Subject     string
		DisplayName string
		Emails      []string
		Claims      map[string]interface{}
	}

	// Mapper can rewrite the canonical record derived from a profile.
	Mapper interface {
		Map(ctx context.Context, p Profile, u *ledger.User) error
	}

	Normalizer struct {
		mapper Mapper
	}

	InvalidProfile struct {
		Provider ledger.Provider
		Reason   string
	}
)

var (
	ErrMissingField = errors.New("identity: username, email and password are required")
)

func (i InvalidProfile) Error() string {
	return fmt.Sprintf("invalid %v profile: %v", i.Provider, i.Reason)
}

// New returns a Normalizer, mapper is optional.
func New(mapper Mapper) *Normalizer {
	return &Normalizer{mapper: mapper}
}

// CanonicalEmail is the form used to compare emails across providers.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FromLocal builds the canonical record of a local form submission. The
// password is not part of the record, hashing it is up to the caller.
func FromLocal(username, email string) (ledger.User, error) {
	u := ledger.User{
		Username: strings.TrimSpace(username),
		Email:    CanonicalEmail(email),
		Provider: ledger.Local,
	}
	if u.Username == "" || u.Email == "" {
		return ledger.User{}, ErrMissingField
	}
	return u, nil
}

// FromProfile builds the canonical record of a federated profile.
//
// The username is the display name, the email is the first asserted email
// or the provider subject when the provider asserted none.
func (n *Normalizer) FromProfile(ctx context.Context, p Profile) (ledger.User, error) {
	if !p.Provider.Federated() {
		return ledger.User{}, InvalidProfile{Provider: p.Provider, Reason: "not a federated provider"}
	}
	u := ledger.User{
		Username:        strings.TrimSpace(p.DisplayName),
		Provider:        p.Provider,
		ProviderSubject: p.Subject,
	}
	for _, e := range p.Emails {
		if e = CanonicalEmail(e); e != "" {
			u.Email = e
			break
		}
	}
	if u.Email == "" {
		u.Email = CanonicalEmail(p.Subject)
	}
	if n.mapper != nil {
		if err := n.mapper.Map(ctx, p, &u); err != nil {
			return ledger.User{}, fmt.Errorf("unable to map %v profile %v, cause %w", p.Provider, p.Subject, err)
		}
		u.Email = CanonicalEmail(u.Email)
	}
	if u.Email == "" {
		return ledger.User{}, InvalidProfile{Provider: p.Provider, Reason: "neither email nor subject asserted"}
	}
	if u.Username == "" {
		u.Username = u.Email
	}
	return u, nil
}
