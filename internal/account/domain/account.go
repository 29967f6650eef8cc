package domain

import (
	"errors"
	"time"
)

// Account is a registered user who can log in and receive notifications.
// Email is stored lowercased and doubles as the notification identity.
// Username is a second login handle and is unique like Email.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Validate checks required fields before persistence.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("account id is required")
	}
	if a.Username == "" {
		return errors.New("account username is required")
	}
	if a.Email == "" {
		return errors.New("account email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("account password hash is required")
	}
	return nil
}
