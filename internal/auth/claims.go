// Package auth verifies bearer tokens issued by the external identity provider
// and carries the resulting identity through request contexts.
package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the verified claim set of an access token.
// Subject is always present after verification; the profile claims are
// optional and stay nil when the provider omits them.
type Claims struct {
	Email      *string `json:"email,omitempty"`
	GivenName  *string `json:"given_name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}
