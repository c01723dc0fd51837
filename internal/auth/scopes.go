package auth

// OAuth scopes understood by the progression API.
const (
	ScopeRead  = "progression:read"
	ScopeWrite = "progression:write"
	ScopeAdmin = "progression:admin"
)
