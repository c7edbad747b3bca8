// Package identity defines the user identity model shared by the
// authentication synchronizer, the event envelopes, and the API surface.
package identity

// UserInfo describes an authenticated user as mirrored across modules.
type UserInfo struct {
	UserID           string            `json:"userId"`
	Username         string            `json:"username"`
	Email            string            `json:"email"`
	Roles            []string          `json:"roles"`
	AdditionalClaims map[string]string `json:"additionalClaims,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *UserInfo) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold the result without
// aliasing the synchronizer's state.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	if u.AdditionalClaims != nil {
		out.AdditionalClaims = make(map[string]string, len(u.AdditionalClaims))
		for k, v := range u.AdditionalClaims {
			out.AdditionalClaims[k] = v
		}
	}
	return &out
}
