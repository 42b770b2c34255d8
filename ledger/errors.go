package ledger

import "fmt"

type (
	UserNotFound struct {
		Key string
	}

	UserExists struct {
		Email    string
		Username string
	}

	UnknownProvider struct {
		Name string
	}
)

func (u UserNotFound) Error() string {
	return fmt.Sprintf("user %v not found", u.Key)
}

func (u UserExists) Error() string {
	return fmt.Sprintf("user with email %v or username %v already exists", u.Email, u.Username)
}

func (u UnknownProvider) Error() string {
	return fmt.Sprintf("provider %q is not supported", u.Name)
}
