package models

import (
	"fmt"
	"strings"
)

// Plan is a user's subscription tier
type Plan string

const (
	PlanFree     Plan = "FREE"
	PlanStandard Plan = "STANDARD"
	PlanPro      Plan = "PRO"
)

// Quota holds the limits granted by a plan
type Quota struct {
	MaxForms               int `json:"max_forms"`
	MaxSubmissionsPerMonth int `json:"max_submissions_per_month"`
}

// planQuotas is the only place plan limits are defined
var planQuotas = map[Plan]Quota{
	PlanFree:     {MaxForms: 3, MaxSubmissionsPerMonth: 200},
	PlanStandard: {MaxForms: 20, MaxSubmissionsPerMonth: 5000},
	PlanPro:      {MaxForms: 100, MaxSubmissionsPerMonth: 50000},
}

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	_, ok := planQuotas[p]
	return ok
}

// Quota returns the limits for p. Unknown plans get no allowance.
func (p Plan) Quota() Quota {
	return planQuotas[p]
}

// ParsePlan parses a plan name case-insensitively
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}
