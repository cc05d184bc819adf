package model

// Principal is the authenticated caller attached to a request by the auth middleware.
type Principal struct {
	User    *User
	Subject string
	Issuer  string
}

// UserID returns the caller's local user ID, or an empty string when unresolved.
func (p *Principal) UserID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}
