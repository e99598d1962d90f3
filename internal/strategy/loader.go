// Package strategy loads strategy definitions from YAML.
package strategy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/internal/trading/risk"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// ErrUnknownCondition is returned in strict mode for rules the parser cannot read
var ErrUnknownCondition = errors.New("unknown condition")

// File is the layout of a strategies file
type File struct {
	Strategies []models.Strategy `yaml:"strategies"`
}

// LoadFile reads, defaults and validates every strategy in path
func LoadFile(path string, strict bool) ([]*models.Strategy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies: %w", err)
	}
	return Parse(b, strict)
}

// Parse decodes strategies from YAML. In strict mode a strategy holding a rule
// the condition parser does not understand is rejected; otherwise the rule is
// logged and will never hold.
func Parse(data []byte, strict bool) ([]*models.Strategy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}

	seen := make(map[string]bool, len(f.Strategies))
	out := make([]*models.Strategy, 0, len(f.Strategies))

	for i := range f.Strategies {
		s := &f.Strategies[i]
		if err := Prepare(s, strict); err != nil {
			return nil, fmt.Errorf("strategy #%d: %w", i+1, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("strategy #%d: duplicate id %q", i+1, s.ID)
		}
		seen[s.ID] = true
		out = append(out, s)
	}

	log.Info().Int("count", len(out)).Msg("Strategies loaded")
	return out, nil
}

// Prepare applies defaults, validates and checks the condition text
func Prepare(s *models.Strategy, strict bool) error {
	if err := risk.ApplyDefaults(s); err != nil {
		return err
	}
	if err := risk.ValidateStrategy(s); err != nil {
		return err
	}

	unknown := append(
		conditions.Unknowns(conditions.ParseAll(s.EntryConditions)),
		conditions.Unknowns(conditions.ParseAll(s.ExitConditions))...,
	)
	if len(unknown) == 0 {
		return nil
	}

	rules := make([]string, 0, len(unknown))
	for _, u := range unknown {
		rules = append(rules, fmt.Sprintf("%q (%s)", u.String(), u.Reason))
	}
	if strict {
		return fmt.Errorf("%w in strategy %q: %s", ErrUnknownCondition, s.ID, strings.Join(rules, ", "))
	}
	log.Warn().Str("strategy", s.ID).Strs("rules", rules).Msg("Strategy has conditions that will never hold")
	return nil
}
