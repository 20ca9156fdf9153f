package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/constraints"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"gopkg.in/yaml.v3"
)

// ConstraintSet is the content of a constraint set file: the constraints a policy
// enforces plus optional run defaults that CLI flags may override.
type ConstraintSet struct {
	Name        string             `yaml:"name"`
	Assets      []string           `yaml:"assets,omitempty"`
	Target      []float64          `yaml:"target,omitempty"`
	Horizon     int                `yaml:"horizon,omitempty"`
	Constraints []constraints.Spec `yaml:"constraints"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// LoadConstraintSet reads, decodes and validates a constraint set file.
func LoadConstraintSet(path string) (*ConstraintSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraint set: %w", err)
	}
	set, err := ParseConstraintSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// ParseConstraintSet decodes and validates a constraint set document.
func ParseConstraintSet(data []byte) (*ConstraintSet, error) {
	var set ConstraintSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode constraint set: %w", err)
	}
	if err := NewValidator().Validate(&set); err != nil {
		return nil, err
	}
	return &set, nil
}

// ApplyDefaults fills per-entry settings the file leaves unset from the
// environment configuration.
func (s *ConstraintSet) ApplyDefaults(cfg *Config) {
	if s.Horizon == 0 {
		s.Horizon = cfg.MPOHorizon
	}
	for i := range s.Constraints {
		spec := &s.Constraints[i]
		if spec.Type == constraints.TypeMarketNeutral && spec.Window == 0 {
			spec.Window = cfg.MarketNeutralWindow
		}
	}
}

// Validator validates constraint sets.
type Validator struct{}

// NewValidator creates a new constraint set validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a constraint set.
// Returns ValidationErrors if the set is invalid.
//
// Every entry except participation_rate_limit is trial-built, so malformed bounds,
// exposures, times and cron expressions are reported here instead of at run time.
// When the set lists its assets, each built constraint is also set up against that
// universe so size mismatches surface too. Participation limits need volume history
// and are only checked for a known type.
func (v *Validator) Validate(set *ConstraintSet) error {
	var errs ValidationErrors

	if set.Horizon < 0 {
		errs = append(errs, ValidationError{Field: "horizon", Message: "must not be negative"})
	}

	assetsOK := true
	seen := make(map[string]bool, len(set.Assets))
	for i, a := range set.Assets {
		switch {
		case a == "":
			assetsOK = false
			errs = append(errs, ValidationError{Field: fmt.Sprintf("assets[%d]", i), Message: "name is required"})
		case seen[a]:
			assetsOK = false
			errs = append(errs, ValidationError{Field: fmt.Sprintf("assets[%d]", i), Message: fmt.Sprintf("duplicate asset %q", a)})
		}
		seen[a] = true
	}

	if len(set.Target) > 0 && len(set.Assets) > 0 && len(set.Target) != len(set.Assets) {
		errs = append(errs, ValidationError{
			Field:   "target",
			Message: fmt.Sprintf("has %d weights for %d assets", len(set.Target), len(set.Assets)),
		})
	}
	for i, w := range set.Target {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("target[%d]", i), Message: "must be finite"})
		}
	}

	// Shape checks need the universe; skip them when the asset list itself is broken.
	var universe *domain.Universe
	if len(set.Assets) > 0 && assetsOK {
		if u, err := domain.NewUniverse(set.Assets, ""); err != nil {
			errs = append(errs, ValidationError{Field: "assets", Message: err.Error()})
		} else {
			universe = &u
		}
	}

	if len(set.Constraints) == 0 {
		errs = append(errs, ValidationError{Field: "constraints", Message: "at least one constraint is required"})
	}
	for i, spec := range set.Constraints {
		field := fmt.Sprintf("constraints[%d]", i)
		if !knownType(spec.Type) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown type %q", spec.Type)})
			continue
		}
		if spec.Type == constraints.TypeParticipationRateLimit {
			continue
		}
		c, err := constraints.Build(spec, constraints.BuildEnv{})
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			continue
		}
		if universe != nil {
			if err := checkShape(c, *universe); err != nil {
				errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkShape sets c up against the universe on a one-step timeline and compiles its
// relation, which rejects bounds and exposures of the wrong size.
func checkShape(c constraints.Constraint, universe domain.Universe) error {
	timeline, err := domain.NewTimeline([]time.Time{time.Unix(0, 0).UTC()})
	if err != nil {
		return err
	}
	if f, ok := c.(estimator.Finisher); ok {
		defer f.Finish()
	}
	if err := c.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	vars := cvx.NewVariables(universe.Len(), "")
	_, err = c.Compile(c.Operand().View(vars))
	return err
}

func knownType(name string) bool {
	for _, t := range constraints.Types {
		if t == name {
			return true
		}
	}
	return false
}
