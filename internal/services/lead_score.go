package services

import (
	"math"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/stage"
)

var budgetPoints = map[models.BudgetBand]float64{
	models.BudgetUnder50k:  1,
	models.Budget50to100k:  2,
	models.Budget100to300k: 2.5,
	models.BudgetOver300k:  3,
	models.BudgetUndecided: 0.5,
}

var timelinePoints = map[models.TimelineBand]float64{
	models.TimelineASAP:     2,
	models.TimelineMonth:    2,
	models.TimelineQuarter:  1.5,
	models.TimelineFlexible: 1,
	models.TimelineLong:     0.5,
}

var (
	decisionMakerRoles = []string{"владелец", "основатель", "директор", "руководитель", "собственник", "owner", "founder", "ceo", "director"}
	managerRoles       = []string{"менеджер", "маркетолог", "head", "lead", "manager", "marketing"}
	priorityIndustries = []string{"commerce", "ecommerce", "магазин", "ритейл", "retail", "недвижимост", "медицин", "клиник", "образован", "финанс"}
)

// LeadScore rates a session in [0, 10] from its profile and engagement:
// budget up to 3, timeline up to 2, role up to 2, industry up to 1 and
// engagement depth up to 2.
func LeadScore(p models.IntakeProfile, turns []models.Turn) float64 {
	score := budgetPoints[p.Budget] + timelinePoints[p.Timeline]

	role := strings.ToLower(strings.TrimSpace(p.Role))
	switch {
	case role == "":
	case stage.Mentions(role, decisionMakerRoles...):
		score += 2
	case stage.Mentions(role, managerRoles...):
		score += 1
	default:
		score += 0.5
	}

	industry := strings.ToLower(strings.TrimSpace(p.Industry))
	switch {
	case industry == "":
	case stage.Mentions(industry, priorityIndustries...):
		score += 1
	default:
		score += 0.5
	}

	score += math.Min(float64(conversationTurns(turns))*0.4, 2)

	score = math.Max(0, math.Min(10, score))
	return math.Round(score*10) / 10
}

// conversationTurns counts client text turns, not the intake form
func conversationTurns(turns []models.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == models.RoleClient && t.Kind == models.KindText {
			n++
		}
	}
	return n
}
