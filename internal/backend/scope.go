package backend

// Scope is the capability under which a backend operation runs.
//
// A user scope is minted from an authenticated session and is narrowed to
// that user's rows. The service scope is the elevated, cross-row
// capability used by the scheduled exporter and the importer's
// owner-rewrite step; it is a distinct value obtained explicitly via
// ServiceScope, never implied by a user credential.
type Scope struct {
	userID   string
	elevated bool
}

// UserScope returns a scope narrowed to the given user's rows.
func UserScope(userID string) Scope {
	return Scope{userID: userID}
}

// ServiceScope returns the elevated scope that bypasses per-row ownership
// checks.
func ServiceScope() Scope {
	return Scope{elevated: true}
}

// Elevated reports whether the scope bypasses per-row ownership.
func (s Scope) Elevated() bool { return s.elevated }

// UserID returns the user a non-elevated scope is narrowed to.
func (s Scope) UserID() string { return s.userID }

func (s Scope) String() string {
	if s.elevated {
		return "service"
	}
	return "user:" + s.userID
}
