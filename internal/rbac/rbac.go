package rbac

type Role string
type Action string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionMessage     Action = "message"
	ActionWrite       Action = "write"
	ActionAdminView   Action = "admin_view"
	ActionImpersonate Action = "impersonate"
	ActionAdmin       Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return action == ActionRead || action == ActionMessage || action == ActionWrite || action == ActionAdminView
	case RoleCustomer:
		return action == ActionRead || action == ActionMessage
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}

// IsAdmin reports whether a raw role string carries admin privilege. Used
// where impersonation decisions need the strict check rather than a
// capability test.
func IsAdmin(role string) bool {
	return Normalize(role) == RoleAdmin
}
