// Package session carries the identity of the signed-in user into every data
// service call and persists it between boostctl invocations.
package session

import "time"

// Context is the session identity passed explicitly to data service calls.
// The zero value means "no session": cloud operations are skipped.
type Context struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether the context carries a user identity.
func (c Context) Active() bool {
	return c.UserID != ""
}

// Expired reports whether the session has an expiry that lies before now.
func (c Context) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
