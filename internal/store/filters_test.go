package store

import (
	"strings"
	"testing"
	"time"

	"council/api/internal/policy"
)

func TestOrderClause(t *testing.T) {
	allowed := map[string]string{"due_date": "t.due_date", "created_at": "t.created_at"}
	cases := []struct {
		ordering string
		want     string
	}{
		{ordering: "due_date", want: "t.due_date ASC NULLS LAST"},
		{ordering: "-created_at", want: "t.created_at DESC NULLS LAST"},
		{ordering: "password_hash", want: "fallback"},
		{ordering: "", want: "fallback"},
	}
	for _, tc := range cases {
		if got := orderClause(tc.ordering, allowed, "fallback"); got != tc.want {
			t.Fatalf("orderClause(%q) = %q, want %q", tc.ordering, got, tc.want)
		}
	}
}

func TestPageClauseClampsLimit(t *testing.T) {
	args := policy.NewArgs()
	clause := pageClause(args, 1000, -5)
	if clause != " LIMIT $1 OFFSET $2" {
		t.Fatalf("pageClause() = %q", clause)
	}
	values := args.Values()
	if values[0] != 50 || values[1] != 0 {
		t.Fatalf("unexpected args %v", values)
	}
}

func TestPageClauseNoLimit(t *testing.T) {
	args := policy.NewArgs()
	if clause := pageClause(args, NoLimit, 20); clause != " OFFSET $1" {
		t.Fatalf("pageClause() = %q", clause)
	}
	if values := args.Values(); len(values) != 1 || values[0] != 20 {
		t.Fatalf("unexpected args %v", values)
	}
}

func TestTaskWhereEscapesSearchWildcards(t *testing.T) {
	args := policy.NewArgs()
	where := taskWhere(TaskFilter{Scope: policy.All(), Status: "pending", Search: `50%_off\now`}, args)
	want := `TRUE AND t.status = $1 AND (t.title ILIKE $2 ESCAPE '\' OR t.description ILIKE $2 ESCAPE '\')`
	if where != want {
		t.Fatalf("taskWhere() = %q, want %q", where, want)
	}
	values := args.Values()
	if len(values) != 2 || values[1] != `%50\%\_off\\now%` {
		t.Fatalf("unexpected args %v", values)
	}
}

func TestTaskScopeRendersAgainstTaskColumns(t *testing.T) {
	actor := policy.Actor{ID: "u1", Role: "board_member", Domain: "ops"}
	args := policy.NewArgs()
	sql := policy.Tasks(actor).SQL(taskColumns, args)
	want := "((t.assigned_to = $1) OR (t.domain = $2 AND COALESCE(t.assigned_to, '') = '') OR (t.assigned_by = $3))"
	if sql != want {
		t.Fatalf("scope SQL = %q, want %q", sql, want)
	}
}

func TestDayBucketsUseUTC(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	activity, _ := dailyActivityQuery(policy.All(), since)
	tasks, _ := dailyTaskCountsQuery(policy.All(), since)

	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "daily activity", query: activity, want: []string{"(a.created_at AT TIME ZONE 'UTC')::date"}},
		{name: "daily task counts", query: tasks, want: []string{"to_char((t.created_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD')"}},
		{name: "user metrics", query: userMetricsQuery, want: []string{
			"meeting_date >= ($2::timestamptz AT TIME ZONE 'UTC')::date",
			"meeting_date <= ($3::timestamptz AT TIME ZONE 'UTC')::date",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, want := range tc.want {
				if !strings.Contains(tc.query, want) {
					t.Fatalf("expected %q in %s", want, tc.query)
				}
			}
			if casts, utc := strings.Count(tc.query, "::date"), strings.Count(tc.query, "AT TIME ZONE 'UTC')::date"); casts != utc {
				t.Fatalf("found %d date casts but only %d in UTC: %s", casts, utc, tc.query)
			}
		})
	}
}
