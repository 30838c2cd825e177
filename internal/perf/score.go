// Package perf holds the performance scoring formulas used by reports.
package perf

import (
	"math"

	"council/api/internal/rbac"
)

const maxScore = 100.0

// UserScore weighs completed tasks, created notes, attendance and activity
// for an individual report. attendancePercent must be unrounded.
func UserScore(tasksCompleted, notesCreated int, attendanceRate float64, activityCount int) float64 {
	score := float64(tasksCompleted)*10 + float64(notesCreated)*5 + attendanceRate*0.5 + float64(activityCount)*2
	return Round2(math.Min(maxScore, score))
}

// TeamMemberScore is the per-member score averaged in team reports.
func TeamMemberScore(tasksCompleted, notesCreated, activityCount int) float64 {
	score := float64(tasksCompleted)*10 + float64(notesCreated)*5 + float64(activityCount)*2
	return math.Min(maxScore, score)
}

// AttendancePercent is the unrounded rate; feed this, not AttendanceRate,
// into further arithmetic so the result is rounded once.
func AttendancePercent(present, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(present) / float64(total) * 100
}

func AttendanceRate(present, total int) float64 {
	return Round2(AttendancePercent(present, total))
}

func CompletionRate(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(completed) / float64(total) * 100)
}

var dailyBase = map[rbac.Role]float64{
	rbac.RoleAdmin:         95,
	rbac.RoleSeniorCouncil: 90,
	rbac.RoleJuniorCouncil: 85,
	rbac.RoleBoardMember:   88,
}

// DailyPerformance is the per-role point on the performance time series.
func DailyPerformance(role rbac.Role, tasksCompleted int) float64 {
	base, ok := dailyBase[role]
	if !ok {
		base = dailyBase[rbac.RoleBoardMember]
	}
	return Round2(math.Min(maxScore, base+float64(tasksCompleted)*0.5))
}

func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return Round2(total / float64(len(values)))
}

func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}
