package estimate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// ErrParseFailure marks a reasoned estimate that could not be read
var ErrParseFailure = errors.New("estimate parse failure")

// hours accepts a JSON number or a numeric string
type hours float64

func (h *hours) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*h = hours(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "ч"), "h")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*h = hours(n)
	return nil
}

type rawComponent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Hours       hours  `json:"hours"`
	Category    string `json:"category"`
	Complexity  string `json:"complexity"`
}

type rawEstimate struct {
	ProjectName     string         `json:"project_name"`
	Industry        string         `json:"industry"`
	Components      []rawComponent `json:"components"`
	Timeline        string         `json:"timeline"`
	Risks           []string       `json:"risks"`
	Recommendations []string       `json:"recommendations"`
}

// ParseEstimate reads the reasoning service's estimate document.
// Totals in the document are ignored; pricing is applied by the engine.
func ParseEstimate(raw string) (*models.Estimate, error) {
	content := cleanJSONContent(raw)
	if content == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParseFailure)
	}

	var doc rawEstimate
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	if len(doc.Components) == 0 {
		return nil, fmt.Errorf("%w: no components", ErrParseFailure)
	}

	est := &models.Estimate{
		ProjectName:     strings.TrimSpace(doc.ProjectName),
		Industry:        strings.TrimSpace(doc.Industry),
		Timeline:        strings.TrimSpace(doc.Timeline),
		Risks:           doc.Risks,
		Recommendations: doc.Recommendations,
	}
	for i, c := range doc.Components {
		h := float64(c.Hours)
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: component %d has no name", ErrParseFailure, i)
		}
		if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return nil, fmt.Errorf("%w: component %q has invalid hours", ErrParseFailure, c.Name)
		}
		est.Components = append(est.Components, models.Component{
			Name:        strings.TrimSpace(c.Name),
			Description: strings.TrimSpace(c.Description),
			Hours:       h,
			Category:    c.Category,
			Complexity:  c.Complexity,
		})
	}
	if est.Timeline == "" {
		est.Timeline = timelineFor(sumHours(est.Components))
	}
	if est.ProjectName == "" {
		est.ProjectName = "Telegram-бот"
	}
	return est, nil
}

// cleanJSONContent strips markdown fences and surrounding chatter,
// returning the outermost JSON object or "".
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
