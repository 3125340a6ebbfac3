package auth

const (
	ScopeOpenID = "openid"
	ScopeRead   = "forma:read"
	ScopeWrite  = "forma:write"
	// ScopeAdmin grants the ownership-override capability: holders may act
	// on wizard runs they do not own.
	ScopeAdmin = "forma:admin"
)

// Identity is the pre-resolved acting identity the core consumes. It is
// produced by the auth middleware (or by a dev-mode bypass) and carried
// through request context.
type Identity struct {
	UserID string
	Scopes []string
}

// HasScope reports whether the identity carries the given scope.
func (i Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Admin reports whether the identity holds the ownership-override capability.
func (i Identity) Admin() bool {
	return i.HasScope(ScopeAdmin)
}
