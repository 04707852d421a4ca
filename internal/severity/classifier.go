// Package severity maps a measured value to an alert severity using
// per-type threshold bands.
package severity

import (
	"fmt"

	"dogsense/ingestion/internal/domain"
)

// Band triggers when a value falls strictly below Below or strictly above Above.
// A nil bound is ignored.
type Band struct {
	Severity domain.Severity `yaml:"severity"`
	Below    *float64        `yaml:"below"`
	Above    *float64        `yaml:"above"`
}

func (b Band) matches(v float64) bool {
	if b.Below != nil && v < *b.Below {
		return true
	}
	if b.Above != nil && v > *b.Above {
		return true
	}
	return false
}

// Rule is the band list for one alert type. Bands are checked in order; the
// first match wins and Default applies when none match.
type Rule struct {
	Type     string               `yaml:"type"`
	Category domain.AlertCategory `yaml:"category"`
	Bands    []Band               `yaml:"bands"`
	Default  domain.Severity      `yaml:"default"`
}

type Table struct {
	rules    map[string]Rule
	fallback domain.Severity
}

// NewTable validates rules and indexes them by type. Types without a rule
// classify as fallback.
func NewTable(rules []Rule, fallback domain.Severity) (*Table, error) {
	if fallback == "" {
		fallback = domain.SeverityMedium
	}
	if !fallback.Valid() {
		return nil, fmt.Errorf("severity: invalid fallback %q", fallback)
	}
	t := &Table{rules: make(map[string]Rule, len(rules)), fallback: fallback}
	for _, r := range rules {
		if r.Type == "" {
			return nil, fmt.Errorf("severity: rule without type")
		}
		if _, dup := t.rules[r.Type]; dup {
			return nil, fmt.Errorf("severity: duplicate rule for %q", r.Type)
		}
		if r.Default == "" {
			r.Default = fallback
		}
		if !r.Default.Valid() {
			return nil, fmt.Errorf("severity: rule %q: invalid default %q", r.Type, r.Default)
		}
		if r.Category != "" {
			if _, ok := domain.ParseCategory(string(r.Category)); !ok {
				return nil, fmt.Errorf("severity: rule %q: unknown category %q", r.Type, r.Category)
			}
		}
		for i, b := range r.Bands {
			if !b.Severity.Valid() {
				return nil, fmt.Errorf("severity: rule %q band %d: invalid severity %q", r.Type, i, b.Severity)
			}
			if b.Below == nil && b.Above == nil {
				return nil, fmt.Errorf("severity: rule %q band %d: no bounds", r.Type, i)
			}
		}
		t.rules[r.Type] = r
	}
	return t, nil
}

// Classify returns the severity of value for alertType. NaN matches no band.
func (t *Table) Classify(alertType string, value float64) domain.Severity {
	r, ok := t.rules[alertType]
	if !ok {
		return t.fallback
	}
	for _, b := range r.Bands {
		if b.matches(value) {
			return b.Severity
		}
	}
	return r.Default
}

// Category returns the configured category for alertType, if any.
func (t *Table) Category(alertType string) (domain.AlertCategory, bool) {
	r, ok := t.rules[alertType]
	if !ok || r.Category == "" {
		return "", false
	}
	return r.Category, true
}

// Fallback is the severity used for unclassified types and missing values.
func (t *Table) Fallback() domain.Severity {
	return t.fallback
}

func bound(v float64) *float64 { return &v }

// DefaultRules are the built-in bands used when no rules file overrides them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:     "heart_rate",
			Category: domain.CategoryHealth,
			Bands: []Band{
				{Severity: domain.SeverityCritical, Below: bound(50), Above: bound(150)},
				{Severity: domain.SeverityHigh, Below: bound(60), Above: bound(120)},
			},
			Default: domain.SeverityMedium,
		},
		{
			Type:     "temperature",
			Category: domain.CategoryHealth,
			Bands: []Band{
				{Severity: domain.SeverityCritical, Below: bound(37), Above: bound(40)},
				{Severity: domain.SeverityHigh, Below: bound(37.5), Above: bound(39.5)},
			},
			Default: domain.SeverityMedium,
		},
		{Type: "respiratory_rate", Category: domain.CategoryHealth},
		{Type: "ambient_temperature", Category: domain.CategoryEnvironment},
		{Type: "humidity", Category: domain.CategoryEnvironment},
		{Type: "water_level", Category: domain.CategoryEnvironment},
	}
}

// DefaultTable returns the table built from DefaultRules.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules(), domain.SeverityMedium)
	if err != nil {
		panic(err)
	}
	return t
}
