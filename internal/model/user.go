// Package model defines domain entities for the application.
package model

import "time"

// User is the local mirror of an identity asserted by the identity provider.
// KeycloakID is the provider's subject claim; it is unique and never changes
// once the row exists. Email and name fields are overwritten from the token on
// every successful authentication.
type User struct {
	ID         string    `json:"id"`
	KeycloakID string    `json:"keycloakId"`
	Email      *string   `json:"email"`
	FirstName  *string   `json:"firstName"`
	LastName   *string   `json:"lastName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DisplayEmail returns the email or an empty string when the provider did not supply one.
func (u *User) DisplayEmail() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}
