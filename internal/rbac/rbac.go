package rbac

import "strings"

type Role string
type Action string

const (
	RoleAdmin         Role = "admin"
	RoleSeniorCouncil Role = "senior_council"
	RoleJuniorCouncil Role = "junior_council"
	RoleBoardMember   Role = "board_member"
)

const (
	ActionManageUsers    Action = "manage_users"
	ActionViewAllTasks   Action = "view_all_tasks"
	ActionCreateTasks    Action = "create_tasks"
	ActionEditTasks      Action = "edit_tasks"
	ActionDeleteTasks    Action = "delete_tasks"
	ActionManageNotes    Action = "manage_notes"
	ActionViewAllReports Action = "view_all_reports"
	ActionCreateChannels Action = "create_channels"
	ActionModerateChat   Action = "moderate_chat"
)

var Roles = []Role{RoleAdmin, RoleSeniorCouncil, RoleJuniorCouncil, RoleBoardMember}

var Domains = []string{"mmt", "photography", "comms", "mis", "hr", "ops", "editorial", "design", "promotions"}

var Verticals = []string{
	"accessibility", "climate_change", "health", "massom", "road_safety",
	"sports", "entrepreneurship", "membership", "arts_culture",
}

var labels = map[Role]string{
	RoleAdmin:         "Admin",
	RoleSeniorCouncil: "Senior Council",
	RoleJuniorCouncil: "Junior Council",
	RoleBoardMember:   "Board Member",
}

// Level orders roles from board member (1) to admin (4).
func Level(role Role) int {
	switch role {
	case RoleAdmin:
		return 4
	case RoleSeniorCouncil:
		return 3
	case RoleJuniorCouncil:
		return 2
	case RoleBoardMember:
		return 1
	default:
		return 0
	}
}

func Label(role Role) string {
	if label, ok := labels[role]; ok {
		return label
	}
	return string(role)
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSeniorCouncil:
		return action != ActionDeleteTasks && action != ActionModerateChat
	case RoleJuniorCouncil:
		return action == ActionCreateTasks || action == ActionEditTasks
	default:
		return false
	}
}

// CanAssignRole reports whether actor may give target to another user.
func CanAssignRole(actor, target Role) bool {
	switch actor {
	case RoleAdmin:
		return Level(target) > 0
	case RoleSeniorCouncil:
		return target == RoleJuniorCouncil || target == RoleBoardMember
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleAdmin, RoleSeniorCouncil, RoleJuniorCouncil, RoleBoardMember:
		return r
	default:
		return RoleBoardMember
	}
}

func Valid(role string) bool {
	return Level(Role(role)) > 0
}

func ValidDomain(domain string) bool {
	return contains(Domains, domain)
}

func ValidVertical(vertical string) bool {
	return contains(Verticals, vertical)
}

// Permissions is the capability map served to clients.
func Permissions(role Role, domain string) map[string]any {
	return map[string]any{
		"can_manage_users":     Can(role, ActionManageUsers),
		"can_view_all_tasks":   Can(role, ActionViewAllTasks),
		"can_create_tasks":     Can(role, ActionCreateTasks),
		"can_edit_tasks":       Can(role, ActionEditTasks),
		"can_delete_tasks":     Can(role, ActionDeleteTasks),
		"can_manage_notes":     Can(role, ActionManageNotes),
		"can_view_all_reports": Can(role, ActionViewAllReports),
		"can_create_channels":  Can(role, ActionCreateChannels),
		"can_moderate_chat":    Can(role, ActionModerateChat),
		"role":                 string(role),
		"role_display":         Label(role),
		"domain":               domain,
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
