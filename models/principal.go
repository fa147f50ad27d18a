package models

// Role is the role claim carried by an authenticated principal.
type Role string

const (
	RoleCustomer Role = "customer"
	RolePro      Role = "pro"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by the reconciler and background jobs. It is never
	// accepted from a token.
	RoleSystem Role = "system"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemPrincipal acts on gateway-confirmed facts.
var SystemPrincipal = Principal{ID: "system", Role: RoleSystem}

// Actor converts the principal into a history actor.
func (p Principal) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role}
}

// IsValidTokenRole reports whether r may appear in a bearer token.
func IsValidTokenRole(r Role) bool {
	return r == RoleCustomer || r == RolePro || r == RoleAdmin
}
