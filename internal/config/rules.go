package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/rules"
	"dogsense/ingestion/internal/severity"
)

const defaultAnomalyHistory = 10

// RuleSet is the alerting configuration read from the rules file. Sections
// left out of the file keep their built-in defaults.
type RuleSet struct {
	Severity struct {
		Fallback domain.Severity `yaml:"fallback"`
		Rules    []severity.Rule `yaml:"rules"`
	} `yaml:"severity"`

	Behavior struct {
		Thresholds []rules.Threshold `yaml:"thresholds"`
	} `yaml:"behavior"`

	Vitals struct {
		Enabled *bool              `yaml:"enabled"`
		Ranges  []rules.VitalRange `yaml:"ranges"`
	} `yaml:"vitals"`

	Anomaly struct {
		History   *int    `yaml:"history"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"anomaly"`
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() RuleSet {
	var rs RuleSet
	rs.applyDefaults()
	return rs
}

// LoadRules reads a YAML rules file. An empty path or a missing file yields
// DefaultRuleSet.
func LoadRules(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultRuleSet(), nil
	}
	if err != nil {
		return RuleSet{}, err
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse rules: %w", err)
	}
	rs.applyDefaults()
	if rs.Anomaly.Threshold < 0 {
		return RuleSet{}, fmt.Errorf("parse rules: negative anomaly threshold %v", rs.Anomaly.Threshold)
	}
	if _, err := rs.SeverityTable(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

func (rs *RuleSet) applyDefaults() {
	if rs.Severity.Fallback == "" {
		rs.Severity.Fallback = domain.SeverityMedium
	}
	if len(rs.Severity.Rules) == 0 {
		rs.Severity.Rules = severity.DefaultRules()
	}
	if len(rs.Behavior.Thresholds) == 0 {
		rs.Behavior.Thresholds = rules.DefaultThresholds()
	}
	if rs.Vitals.Enabled == nil {
		enabled := true
		rs.Vitals.Enabled = &enabled
	}
	if len(rs.Vitals.Ranges) == 0 {
		rs.Vitals.Ranges = rules.DefaultVitalRanges()
	}
	if rs.Anomaly.History == nil {
		n := defaultAnomalyHistory
		rs.Anomaly.History = &n
	}
	if rs.Anomaly.Threshold == 0 {
		rs.Anomaly.Threshold = rules.DefaultAnomalyThreshold
	}
}

func (rs RuleSet) SeverityTable() (*severity.Table, error) {
	return severity.NewTable(rs.Severity.Rules, rs.Severity.Fallback)
}

func (rs RuleSet) VitalsEnabled() bool {
	return rs.Vitals.Enabled == nil || *rs.Vitals.Enabled
}

// AnomalyHistory is the number of past score sets compared against; 0 disables
// anomaly detection.
func (rs RuleSet) AnomalyHistory() int {
	if rs.Anomaly.History == nil {
		return defaultAnomalyHistory
	}
	return *rs.Anomaly.History
}
