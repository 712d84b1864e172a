package estimate

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/stage"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Feature is a component added when the conversation mentions its keywords
type Feature struct {
	Keywords  []string         `yaml:"keywords"`
	Component models.Component `yaml:"component"`
}

// RiskDomain raises estimates for regulated industries
type RiskDomain struct {
	Keywords   []string `yaml:"keywords"`
	Multiplier float64  `yaml:"multiplier"`
	Note       string   `yaml:"note"`
}

// Catalog is the static baseline and feature price list
type Catalog struct {
	Baseline    []models.Component `yaml:"baseline"`
	Features    []Feature          `yaml:"features"`
	RiskDomains []RiskDomain       `yaml:"risk_domains"`
}

// DefaultCatalog parses the embedded catalog
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog decodes and checks a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Baseline) == 0 {
		return nil, fmt.Errorf("catalog has no baseline components")
	}
	for _, comp := range c.Baseline {
		if comp.Hours <= 0 {
			return nil, fmt.Errorf("baseline component %q has no hours", comp.Name)
		}
	}
	for _, f := range c.Features {
		if len(f.Keywords) == 0 || f.Component.Hours <= 0 {
			return nil, fmt.Errorf("feature %q is incomplete", f.Component.Name)
		}
	}
	return &c, nil
}

// Detect returns the feature components mentioned in text, in catalog order
func (c *Catalog) Detect(text string) []models.Component {
	var out []models.Component
	for _, f := range c.Features {
		if stage.Mentions(text, f.Keywords...) {
			out = append(out, f.Component)
		}
	}
	return out
}

// RiskFor returns the strongest risk domain matching industry text
func (c *Catalog) RiskFor(text string) (RiskDomain, bool) {
	var best RiskDomain
	found := false
	for _, r := range c.RiskDomains {
		if stage.Mentions(text, r.Keywords...) && r.Multiplier > best.Multiplier {
			best = r
			found = true
		}
	}
	return best, found
}

// describeBaseline renders the baseline as prompt lines
func (c *Catalog) describeBaseline() string {
	var b strings.Builder
	for _, comp := range c.Baseline {
		fmt.Fprintf(&b, "- %s (%s): %.0f ч\n", comp.Name, comp.Description, comp.Hours)
	}
	return b.String()
}

// describeRisks renders risk multipliers as prompt lines
func (c *Catalog) describeRisks() string {
	var b strings.Builder
	for _, r := range c.RiskDomains {
		fmt.Fprintf(&b, "- %s: ×%.1f (%s)\n", strings.Join(r.Keywords, ", "), r.Multiplier, r.Note)
	}
	return b.String()
}
