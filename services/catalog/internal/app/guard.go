package app

import "authorsapi/pkg/domain"

// Capability is what an actor may do to a record it is checked against.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityOwnerWrite
	CapabilityAdminOverride
)

// Authorize decides the actor's capability over a record owned by ownerID.
// Admins always override; otherwise only the owner may write.
func Authorize(actor domain.User, ownerID string) Capability {
	switch {
	case actor.Role == domain.RoleAdmin:
		return CapabilityAdminOverride
	case actor.ID != "" && actor.ID == ownerID:
		return CapabilityOwnerWrite
	default:
		return CapabilityNone
	}
}

func CanMutate(actor domain.User, ownerID string) bool {
	return Authorize(actor, ownerID) != CapabilityNone
}

// CanDeleteUser is admin-only, including for an actor deleting their own account.
func CanDeleteUser(actor domain.User) bool {
	return actor.Role == domain.RoleAdmin
}

func IsAdmin(u domain.User) bool {
	return u.Role == domain.RoleAdmin
}
