package models

// Identity is the authenticated caller as resolved by the identity provider.
// The engine trusts it as given.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// IsZero reports whether no user is set.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}
