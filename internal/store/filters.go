package store

import (
	"time"

	"council/api/internal/policy"
)

type UserFilter struct {
	Scope  policy.Filter
	Role   string
	Domain string
	Search string
	Limit  int
	Offset int
}

type TaskFilter struct {
	Scope        policy.Filter
	Status       string
	Priority     string
	Domain       string
	AssignedTo   string
	AssignedBy   string
	DueFrom      *time.Time
	DueTo        *time.Time
	CreatedSince *time.Time
	Search       string
	Ordering     string
	Limit        int
	Offset       int
}

type NoteFilter struct {
	Scope    policy.Filter
	Priority string
	Domain   string
	Author   string
	IsPublic *bool
	Search   string
	Tag      string
	Ordering string
	Limit    int
	Offset   int
}

type ChannelFilter struct {
	Scope       policy.Filter
	Participant string
	Type        string
}

var (
	userColumns = policy.Columns{
		policy.FieldActive: "u.is_active",
		policy.FieldRole:   "u.role",
		policy.FieldDomain: "u.domain",
	}
	taskColumns = policy.Columns{
		policy.FieldDomain:     "t.domain",
		policy.FieldAssignedTo: "t.assigned_to",
		policy.FieldAssignedBy: "t.assigned_by",
	}
	noteColumns = policy.Columns{
		policy.FieldDomain: "n.domain",
		policy.FieldPublic: "n.is_public",
		policy.FieldAuthor: "n.author_id",
	}
	channelColumns = policy.Columns{
		policy.FieldArchived:     "c.is_archived",
		policy.FieldDomain:       "c.domain",
		policy.FieldVertical:     "c.vertical",
		policy.FieldParticipants: "EXISTS (SELECT 1 FROM channel_participants cp WHERE cp.channel_id = c.id AND cp.user_id = %s)",
	}
	reportColumns = policy.Columns{
		policy.FieldGeneratedBy: "r.generated_by",
	}
	activityColumns = policy.Columns{
		policy.FieldUserID:     "a.user_id",
		policy.FieldUserDomain: "au.domain",
	}
)

// orderClause maps a client ordering like "-due_date" onto an allowed column.
func orderClause(ordering string, allowed map[string]string, fallback string) string {
	desc := false
	key := ordering
	if len(key) > 0 && key[0] == '-' {
		desc = true
		key = key[1:]
	}
	column, ok := allowed[key]
	if !ok {
		return fallback
	}
	if desc {
		return column + " DESC NULLS LAST"
	}
	return column + " ASC NULLS LAST"
}

// utcDay renders the calendar day of a timestamptz expression in UTC, so day
// buckets do not move with the session time zone.
func utcDay(expr string) string {
	return "(" + expr + " AT TIME ZONE 'UTC')::date"
}

// NoLimit as a filter Limit returns every matching row.
const NoLimit = -1

func pageClause(args *policy.Args, limit, offset int) string {
	if offset < 0 {
		offset = 0
	}
	if limit == NoLimit {
		return " OFFSET " + args.Add(offset)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return " LIMIT " + args.Add(limit) + " OFFSET " + args.Add(offset)
}
