package policy

import "council/api/internal/rbac"

// Actor is the authenticated user a scope is computed for.
type Actor struct {
	ID       string
	Role     rbac.Role
	Domain   string
	Vertical string
}

const (
	FieldActive       = "is_active"
	FieldRole         = "role"
	FieldDomain       = "domain"
	FieldVertical     = "vertical"
	FieldAssignedTo   = "assigned_to"
	FieldAssignedBy   = "assigned_by"
	FieldAuthor       = "author"
	FieldPublic       = "is_public"
	FieldArchived     = "is_archived"
	FieldParticipants = "participants"
	FieldGeneratedBy  = "generated_by"
	FieldUserID       = "user_id"
	FieldUserDomain   = "user_domain"
)

func (a Actor) elevated() bool {
	return a.Role == rbac.RoleAdmin || a.Role == rbac.RoleSeniorCouncil
}

// Users is the directory scope.
func Users(a Actor) Filter {
	active := Eq(FieldActive, true)
	switch a.Role {
	case rbac.RoleAdmin:
		return Any(Term{active})
	case rbac.RoleSeniorCouncil:
		return Any(Term{active, In(FieldRole, string(rbac.RoleJuniorCouncil), string(rbac.RoleBoardMember))})
	case rbac.RoleJuniorCouncil, rbac.RoleBoardMember:
		if a.Domain == "" {
			return None()
		}
		return Any(Term{active, Eq(FieldRole, string(rbac.RoleBoardMember)), Eq(FieldDomain, a.Domain)})
	default:
		return None()
	}
}

// Tasks is the general task scope.
func Tasks(a Actor) Filter {
	switch a.Role {
	case rbac.RoleAdmin, rbac.RoleSeniorCouncil:
		return All()
	case rbac.RoleJuniorCouncil:
		if a.Domain == "" {
			return Any(Term{Eq(FieldAssignedBy, a.ID)}, Term{Eq(FieldAssignedTo, a.ID)})
		}
		return Any(Term{Eq(FieldDomain, a.Domain)}, Term{Eq(FieldAssignedBy, a.ID)})
	case rbac.RoleBoardMember:
		if a.Domain == "" {
			return Any(Term{Eq(FieldAssignedTo, a.ID)}, Term{Eq(FieldAssignedBy, a.ID)})
		}
		return Any(
			Term{Eq(FieldAssignedTo, a.ID)},
			Term{Eq(FieldDomain, a.Domain), IsNull(FieldAssignedTo)},
			Term{Eq(FieldAssignedBy, a.ID)},
		)
	default:
		return None()
	}
}

// TeamTasks widens the board member view to the whole domain.
func TeamTasks(a Actor) Filter {
	if a.Role != rbac.RoleBoardMember {
		return Tasks(a)
	}
	if a.Domain == "" {
		return Any(Term{Eq(FieldAssignedTo, a.ID)})
	}
	return Any(Term{Eq(FieldDomain, a.Domain)}, Term{Eq(FieldAssignedTo, a.ID)})
}

func Notes(a Actor) Filter {
	switch a.Role {
	case rbac.RoleAdmin, rbac.RoleSeniorCouncil:
		return All()
	case rbac.RoleJuniorCouncil:
		if a.Domain != "" {
			return Any(Term{Eq(FieldDomain, a.Domain)}, Term{Eq(FieldPublic, true)}, Term{Eq(FieldAuthor, a.ID)})
		}
		return Any(Term{Eq(FieldPublic, true)}, Term{Eq(FieldAuthor, a.ID)})
	case rbac.RoleBoardMember:
		return Any(Term{Eq(FieldPublic, true)}, Term{Eq(FieldAuthor, a.ID)})
	default:
		return None()
	}
}

// Channels lists the non-archived channels an actor can see.
func Channels(a Actor) Filter {
	return ChannelAccess(a).And(Eq(FieldArchived, false))
}

// ChannelAccess decides whether an actor may read a channel's messages,
// archived or not.
func ChannelAccess(a Actor) Filter {
	if a.elevated() {
		return All()
	}
	terms := []Term{{Member(FieldParticipants, a.ID)}}
	if a.Role == rbac.RoleJuniorCouncil {
		if a.Domain != "" {
			terms = append(terms, Term{Eq(FieldDomain, a.Domain)})
		}
		if a.Vertical != "" {
			terms = append(terms, Term{Eq(FieldVertical, a.Vertical)})
		}
	}
	return Any(terms...)
}

func Reports(a Actor) Filter {
	if a.elevated() {
		return All()
	}
	return Any(Term{Eq(FieldGeneratedBy, a.ID)})
}

// Activities scopes activity, attendance and performance rows by the owning user.
func Activities(a Actor) Filter {
	switch {
	case a.elevated():
		return All()
	case a.Role == rbac.RoleJuniorCouncil && a.Domain != "":
		return Any(Term{Eq(FieldUserDomain, a.Domain)}, Term{Eq(FieldUserID, a.ID)})
	default:
		return Any(Term{Eq(FieldUserID, a.ID)})
	}
}

// DashboardTasks feeds the dashboard counters and performance series.
func DashboardTasks(a Actor) Filter {
	switch {
	case a.elevated():
		return All()
	case a.Role == rbac.RoleJuniorCouncil && a.Domain != "":
		return Any(Term{Eq(FieldDomain, a.Domain)})
	default:
		return Any(Term{Eq(FieldAssignedTo, a.ID)})
	}
}

func DashboardNotes(a Actor) Filter {
	switch {
	case a.elevated():
		return All()
	case a.Role == rbac.RoleJuniorCouncil && a.Domain != "":
		return Any(Term{Eq(FieldDomain, a.Domain)})
	default:
		return Any(Term{Eq(FieldAuthor, a.ID)})
	}
}
