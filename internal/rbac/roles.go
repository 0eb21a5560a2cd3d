package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role, read-only operator access
)

// Role groups used by the route table.
var (
	// ChannelAdmins may provision, repair and remove channel instances.
	ChannelAdmins = []string{RoleOwner, RoleManager}
	// Inbox covers everyone who works conversations.
	Inbox = []string{RoleOwner, RoleManager, RoleAgent}
	// Operators may inspect and retry the webhook queue.
	Operators = []string{RoleOwner, RoleSupport}
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }
