package store

import "council/api/internal/policy"

// Record methods expose rows to policy.Filter.Matches using the same field
// names the SQL column maps use.

func (u User) Record() policy.Record {
	return policy.Record{
		policy.FieldActive: u.IsActive,
		policy.FieldRole:   u.Role,
		policy.FieldDomain: u.Domain,
	}
}

func (t Task) Record() policy.Record {
	return policy.Record{
		policy.FieldDomain:     t.Domain,
		policy.FieldAssignedTo: t.AssignedTo,
		policy.FieldAssignedBy: t.AssignedBy,
	}
}

func (n Note) Record() policy.Record {
	return policy.Record{
		policy.FieldDomain: n.Domain,
		policy.FieldPublic: n.IsPublic,
		policy.FieldAuthor: n.AuthorID,
	}
}

func (c Channel) Record() policy.Record {
	return policy.Record{
		policy.FieldArchived:     c.IsArchived,
		policy.FieldDomain:       c.Domain,
		policy.FieldVertical:     c.Vertical,
		policy.FieldParticipants: c.Participants,
	}
}

func (r Report) Record() policy.Record {
	return policy.Record{policy.FieldGeneratedBy: r.GeneratedBy}
}

// HasParticipant reports whether userID belongs to the channel.
func (c Channel) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}
