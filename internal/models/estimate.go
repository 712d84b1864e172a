package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// GeneratedBy names the estimate strategy that produced a document
type GeneratedBy string

const (
	GeneratedByReasoned  GeneratedBy = "reasoned"
	GeneratedByHeuristic GeneratedBy = "heuristic"
	GeneratedByMinimal   GeneratedBy = "minimal"
	GeneratedByReviewer  GeneratedBy = "reviewer"
)

// Component is a single line item of an estimate
type Component struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Hours       float64 `json:"hours" yaml:"hours"`
	Cost        float64 `json:"cost" yaml:"-"`
	Category    string  `json:"category" yaml:"category"`
	Complexity  string  `json:"complexity" yaml:"complexity"`
}

// EstimateMetadata describes how an estimate was produced
type EstimateMetadata struct {
	GeneratedBy GeneratedBy `json:"generated_by"`
	Approximate bool        `json:"approximate"`
	GeneratedAt time.Time   `json:"generated_at"`
	HourlyRate  float64     `json:"hourly_rate"`
	MinimumCost float64     `json:"minimum_cost"`
	Currency    string      `json:"currency"`
	Note        string      `json:"note,omitempty"`
}

// Estimate is the structured cost/time/scope document for a session
type Estimate struct {
	ID              string           `json:"id"`
	ProjectName     string           `json:"project_name"`
	Industry        string           `json:"industry"`
	Components      []Component      `json:"components"`
	TotalHours      float64          `json:"total_hours"`
	TotalCost       float64          `json:"total_cost"`
	Timeline        string           `json:"timeline"`
	Risks           []string         `json:"risks"`
	Recommendations []string         `json:"recommendations"`
	Metadata        EstimateMetadata `json:"metadata"`
}

// Pricing holds the rate card applied to every estimate
type Pricing struct {
	HourlyRate  float64
	MinimumCost float64
	Currency    string
}

// Price recomputes per-component cost, totals, and the cost floor in place
func (e *Estimate) Price(p Pricing) {
	var hours float64
	for i := range e.Components {
		e.Components[i].Cost = roundMoney(e.Components[i].Hours * p.HourlyRate)
		hours += e.Components[i].Hours
	}
	e.TotalHours = hours
	e.TotalCost = math.Max(roundMoney(hours*p.HourlyRate), p.MinimumCost)
	e.Metadata.HourlyRate = p.HourlyRate
	e.Metadata.MinimumCost = p.MinimumCost
	e.Metadata.Currency = p.Currency
}

// Validate checks the structural invariants every estimate must satisfy
func (e *Estimate) Validate(minimumCost float64) error {
	if e == nil {
		return errors.New("estimate is nil")
	}
	if len(e.Components) == 0 {
		return errors.New("estimate has no components")
	}
	for i, c := range e.Components {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("component %d has no name", i)
		}
		if c.Hours <= 0 || !finite(c.Hours) {
			return fmt.Errorf("component %q has invalid hours %v", c.Name, c.Hours)
		}
		if !finite(c.Cost) {
			return fmt.Errorf("component %q has invalid cost %v", c.Name, c.Cost)
		}
	}
	if !finite(e.TotalHours) || !finite(e.TotalCost) {
		return fmt.Errorf("totals out of range: %v h, %v", e.TotalHours, e.TotalCost)
	}
	if e.TotalCost < minimumCost {
		return fmt.Errorf("total cost %.2f below minimum %.2f", e.TotalCost, minimumCost)
	}
	return nil
}

// Clone returns a deep copy
func (e *Estimate) Clone() *Estimate {
	if e == nil {
		return nil
	}
	c := *e
	c.Components = append([]Component(nil), e.Components...)
	c.Risks = append([]string(nil), e.Risks...)
	c.Recommendations = append([]string(nil), e.Recommendations...)
	return &c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
