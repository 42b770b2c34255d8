package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

type (
	// Provider names the source that authenticated a user.
	Provider string

	// Action records whether an authentication created the account or reused it.
	Action string

	// User is the canonical account record. PasswordHash is only set for
	// local accounts.
	User struct {
		ID              string         `db:"user_id" json:"id"`
		Username        string         `db:"username" json:"username"`
		Email           string         `db:"email" json:"email"`
		PasswordHash    sql.NullString `db:"password_hash" json:"-"`
		Provider        Provider       `db:"provider" json:"provider"`
		ProviderSubject string         `db:"provider_subject" json:"providerId,omitempty"`
		SignupDate      time.Time      `db:"signup_date" json:"signupDate"`
	}

	// Event is one entry of the append-only login ledger.
	Event struct {
		ID        int64     `db:"event_id" json:"-"`
		Email     string    `db:"email" json:"email"`
		Username  string    `db:"username" json:"username"`
		Provider  Provider  `db:"provider" json:"provider"`
		Action    Action    `db:"action" json:"action"`
		Timestamp time.Time `db:"created_at" json:"timestamp"`
	}
)

const (
	Local     = Provider("local")
	Microsoft = Provider("microsoft")
	Google    = Provider("google")

	Signup = Action("signup")
	Login  = Action("login")
)

// ParseProvider validates a provider name coming from a route or a flag.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case Local, Microsoft, Google:
		return p, nil
	}
	return "", UnknownProvider{Name: name}
}

func (p Provider) Federated() bool {
	return p == Microsoft || p == Google
}

func (u *User) HasPassword() bool {
	return u.PasswordHash.Valid && u.PasswordHash.String != ""
}

func (u User) String() string {
	return fmt.Sprintf("%v <%v> (%v)", u.Username, u.Email, u.Provider)
}
