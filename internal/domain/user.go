package domain

// Role type to distinguish between caller roles.
// Identities are issued by the auth collaborator; this service only reads them.
type Role string

// Define constants for roles
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a role this service knows about.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}
