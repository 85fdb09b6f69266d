// Package qamask derives validity masks from sensor quality/cloud bands.
//
// Rulesets are data, not code: each sensor family is described by a list of
// rules matching raw quality-band values, so adding a sensor needs only a
// new ruleset, never a code change.
package qamask

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RuleKind selects how a rule matches the raw quality value.
type RuleKind string

const (
	// KindBitmask matches when (uint32(value) & Mask) != 0.
	KindBitmask RuleKind = "bitmask"
	// KindRange matches when Min <= value <= Max.
	KindRange RuleKind = "range"
	// KindEquals matches when value == Value.
	KindEquals RuleKind = "equals"
)

// Rule is one named condition over the quality band's raw value.
// A matching rule with Valid == false marks the pixel invalid; a rule with
// Valid == true is an explicit exemption (the condition is tolerated), which
// lets a caller flip e.g. snow between excluded and accepted without
// touching any other condition.
type Rule struct {
	Name  string   `json:"name"` // "cloud", "cloud_shadow", "snow", "saturated", "fill"
	Kind  RuleKind `json:"kind"`
	Mask  uint32   `json:"mask,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Value *float64 `json:"value,omitempty"`
	Valid bool     `json:"valid,omitempty"`
}

// Matches reports whether the raw quality value satisfies this rule's
// condition.
func (r Rule) Matches(v float64) bool {
	switch r.Kind {
	case KindBitmask:
		if v < 0 {
			return false
		}
		return uint32(v)&r.Mask != 0
	case KindRange:
		if r.Min != nil && v < *r.Min {
			return false
		}
		if r.Max != nil && v > *r.Max {
			return false
		}
		return r.Min != nil || r.Max != nil
	case KindEquals:
		return r.Value != nil && v == *r.Value
	default:
		return false
	}
}

// Validate checks that the rule is well-formed.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	switch r.Kind {
	case KindBitmask:
		if r.Mask == 0 {
			return fmt.Errorf("rule %q: bitmask rule needs a non-zero mask", r.Name)
		}
	case KindRange:
		if r.Min == nil && r.Max == nil {
			return fmt.Errorf("rule %q: range rule needs min and/or max", r.Name)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("rule %q: min %g > max %g", r.Name, *r.Min, *r.Max)
		}
	case KindEquals:
		if r.Value == nil {
			return fmt.Errorf("rule %q: equals rule needs a value", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown kind %q", r.Name, r.Kind)
	}
	return nil
}

// Ruleset is the per-sensor-family masking configuration.
type Ruleset struct {
	Sensor string `json:"sensor"`
	Rules  []Rule `json:"rules"`
}

// Validate checks the ruleset and every rule in it.
func (rs *Ruleset) Validate() error {
	if rs.Sensor == "" {
		return fmt.Errorf("ruleset sensor must not be empty")
	}
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("ruleset %q: %w", rs.Sensor, err)
		}
	}
	return nil
}

// Rule lookup by name; nil when absent.
func (rs *Ruleset) Rule(name string) *Rule {
	for i := range rs.Rules {
		if rs.Rules[i].Name == name {
			return &rs.Rules[i]
		}
	}
	return nil
}

// maxRulesetFileSize bounds ruleset config files; anything larger is a
// misconfiguration, not a ruleset.
const maxRulesetFileSize = 1 * 1024 * 1024

// LoadRuleset loads a ruleset from a JSON file. The path must carry a .json
// extension and the file must be under the maximum size.
func LoadRuleset(path string) (*Ruleset, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("ruleset file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat ruleset file: %w", err)
	}
	if info.Size() > maxRulesetFileSize {
		return nil, fmt.Errorf("ruleset file too large: %d bytes (max %d)", info.Size(), maxRulesetFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset file: %w", err)
	}
	var rs Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset JSON: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ruleset: %w", err)
	}
	return &rs, nil
}

func ptrFloat64(v float64) *float64 { return &v }

// DefaultRulesets returns built-in rulesets for common sensor families,
// keyed by sensor name. Callers may override any of them via LoadRuleset.
func DefaultRulesets() map[string]*Ruleset {
	return map[string]*Ruleset{
		// Landsat Collection 2 Level-2 QA_PIXEL bit layout.
		"landsat-c2l2": {
			Sensor: "landsat-c2l2",
			Rules: []Rule{
				{Name: "fill", Kind: KindBitmask, Mask: 1 << 0},
				{Name: "cloud", Kind: KindBitmask, Mask: 1 << 3},
				{Name: "cloud_shadow", Kind: KindBitmask, Mask: 1 << 4},
				{Name: "snow", Kind: KindBitmask, Mask: 1 << 5},
			},
		},
		// Sentinel-2 scene classification layer classes.
		"sentinel2-scl": {
			Sensor: "sentinel2-scl",
			Rules: []Rule{
				{Name: "fill", Kind: KindEquals, Value: ptrFloat64(0)},
				{Name: "saturated", Kind: KindEquals, Value: ptrFloat64(1)},
				{Name: "cloud_shadow", Kind: KindEquals, Value: ptrFloat64(3)},
				{Name: "cloud", Kind: KindRange, Min: ptrFloat64(8), Max: ptrFloat64(10)},
				{Name: "snow", Kind: KindEquals, Value: ptrFloat64(11)},
			},
		},
		// MODIS MOD09 state flags: bits 0-1 cloud state, bit 2 shadow,
		// bits 12-13 snow/ice.
		"modis-state": {
			Sensor: "modis-state",
			Rules: []Rule{
				{Name: "cloud", Kind: KindBitmask, Mask: 0b11},
				{Name: "cloud_shadow", Kind: KindBitmask, Mask: 1 << 2},
				{Name: "snow", Kind: KindBitmask, Mask: 1 << 12},
			},
		},
	}
}
