package constraints

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/aristath/sentinel-cvx/internal/modules/forecast"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Type names accepted in constraint set files.
const (
	TypeLongOnly               = "long_only"
	TypeLeverageLimit          = "leverage_limit"
	TypeLongCash               = "long_cash"
	TypeDollarNeutral          = "dollar_neutral"
	TypeMaxWeights             = "max_weights"
	TypeMinWeights             = "min_weights"
	TypeFactorMaxLimit         = "factor_max_limit"
	TypeFactorMinLimit         = "factor_min_limit"
	TypeFixedFactorLoading     = "fixed_factor_loading"
	TypeParticipationRateLimit = "participation_rate_limit"
	TypeMarketNeutral          = "market_neutral"
	TypeMinWeightsAtTimes      = "min_weights_at_times"
	TypeMaxWeightsAtTimes      = "max_weights_at_times"
)

// Types lists every constraint type name in catalog order.
var Types = []string{
	TypeLongOnly, TypeLeverageLimit, TypeLongCash, TypeDollarNeutral,
	TypeMaxWeights, TypeMinWeights,
	TypeFactorMaxLimit, TypeFactorMinLimit, TypeFixedFactorLoading,
	TypeParticipationRateLimit, TypeMarketNeutral,
	TypeMinWeightsAtTimes, TypeMaxWeightsAtTimes,
}

// ErrUnknownType is returned for a constraint type name not in Types.
var ErrUnknownType = errors.New("unknown constraint type")

// Value is a scalar or a per-entry list in a constraint set file.
type Value struct {
	Scalar float64
	Vector []float64
	set    bool
}

// UnmarshalYAML accepts `0.5` or `[0.1, 0.2]`.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if err := node.Decode(&v.Scalar); err != nil {
			return err
		}
	case yaml.SequenceNode:
		if err := node.Decode(&v.Vector); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: expected a number or a list of numbers", node.Line)
	}
	v.set = true
	return nil
}

// IsSet reports whether the value was present in the file.
func (v *Value) IsSet() bool { return v != nil && v.set }

// Source converts the value to a constant estimator source.
func (v *Value) Source() estimator.Source {
	if v.Vector != nil {
		return estimator.ConstantVector(v.Vector)
	}
	return estimator.Constant(v.Scalar)
}

// Spec is one constraint entry of a constraint set file.
type Spec struct {
	Type             string      `yaml:"type"`
	Limit            *Value      `yaml:"limit,omitempty"`
	CollateralFactor float64     `yaml:"collateral_factor,omitempty"`
	Exposure         [][]float64 `yaml:"exposure,omitempty"`
	MaxFraction      *Value      `yaml:"max_fraction,omitempty"`
	Times            []string    `yaml:"times,omitempty"`
	Cron             string      `yaml:"cron,omitempty"`
	Window           int         `yaml:"window,omitempty"`
	VolumeWindow     int         `yaml:"volume_window,omitempty"`
	Factors          int         `yaml:"factors,omitempty"`
	Shrinkage        bool        `yaml:"shrinkage,omitempty"`
}

// BuildEnv carries the data some constraint types need at construction time.
type BuildEnv struct {
	// Volumes backs participation_rate_limit; its columns are the asset names.
	Volumes *domain.Frame
}

// ParseSpecs decodes a YAML list of constraint specs.
func ParseSpecs(data []byte) ([]Spec, error) {
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode constraint specs: %w", err)
	}
	return specs, nil
}

// Build constructs a fresh constraint from s. Every call returns a new instance, so
// Build can serve as a per-period factory.
func Build(s Spec, env BuildEnv) (Constraint, error) {
	switch s.Type {
	case TypeLongOnly:
		return NewLongOnly(), nil
	case TypeLeverageLimit:
		if !s.Limit.IsSet() {
			return nil, missing(s.Type, "limit")
		}
		return NewLeverageLimit(s.Limit.Source()), nil
	case TypeLongCash:
		return NewLongCash(s.CollateralFactor), nil
	case TypeDollarNeutral:
		return NewDollarNeutral(), nil
	case TypeMaxWeights, TypeMinWeights:
		if !s.Limit.IsSet() {
			return nil, missing(s.Type, "limit")
		}
		if s.Type == TypeMaxWeights {
			return NewMaxWeights(s.Limit.Source()), nil
		}
		return NewMinWeights(s.Limit.Source()), nil
	case TypeFactorMaxLimit, TypeFactorMinLimit, TypeFixedFactorLoading:
		return buildFactor(s)
	case TypeParticipationRateLimit:
		if env.Volumes.Rows() == 0 {
			return nil, fmt.Errorf("%s: no volume data", s.Type)
		}
		volumes, err := estimator.Table(env.Volumes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Type, err)
		}
		var fraction estimator.Source
		if s.MaxFraction.IsSet() {
			fraction = s.MaxFraction.Source()
		}
		return NewParticipationRateLimit(volumes, fraction), nil
	case TypeMarketNeutral:
		opts := []forecast.Option{}
		if s.Window > 0 {
			opts = append(opts, forecast.WithWindow(s.Window))
		}
		if s.Factors > 0 {
			opts = append(opts, forecast.WithNumFactors(s.Factors))
		}
		if s.Shrinkage {
			opts = append(opts, forecast.WithShrinkage())
		}
		return NewMarketNeutral(
			WithCovarianceForecaster(forecast.NewHistoricalFactorizedCovariance(opts...)),
			WithVolumeWindow(s.VolumeWindow),
		), nil
	case TypeMinWeightsAtTimes, TypeMaxWeightsAtTimes:
		return buildAtTimes(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
}

// BuildAll builds every spec in order.
func BuildAll(specs []Spec, env BuildEnv) ([]Constraint, error) {
	out := make([]Constraint, 0, len(specs))
	for i, s := range specs {
		c, err := Build(s, env)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func buildFactor(s Spec) (Constraint, error) {
	if len(s.Exposure) == 0 {
		return nil, missing(s.Type, "exposure")
	}
	if !s.Limit.IsSet() {
		return nil, missing(s.Type, "limit")
	}
	k := len(s.Exposure[0])
	data := make([]float64, 0, len(s.Exposure)*k)
	for i, row := range s.Exposure {
		if len(row) != k || k == 0 {
			return nil, fmt.Errorf("%s: exposure row %d has %d columns, want %d", s.Type, i, len(row), k)
		}
		data = append(data, row...)
	}
	exposure := estimator.ConstantMatrix(mat.NewDense(len(s.Exposure), k, data))
	bound := estimator.Constant(s.Limit.Scalar)
	if s.Limit.Vector != nil {
		bound = estimator.ConstantFactorVector(s.Limit.Vector)
	}
	switch s.Type {
	case TypeFactorMaxLimit:
		return NewFactorMaxLimit(exposure, bound), nil
	case TypeFactorMinLimit:
		return NewFactorMinLimit(exposure, bound), nil
	default:
		return NewFixedFactorLoading(exposure, bound), nil
	}
}

func buildAtTimes(s Spec) (Constraint, error) {
	if !s.Limit.IsSet() || s.Limit.Vector != nil {
		return nil, fmt.Errorf("%s: limit must be a single number", s.Type)
	}
	var calendar Calendar
	switch {
	case s.Cron != "" && len(s.Times) > 0:
		return nil, fmt.Errorf("%s: set either times or cron, not both", s.Type)
	case s.Cron != "":
		c, err := CronCalendar(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Type, err)
		}
		calendar = c
	case len(s.Times) > 0:
		times := make([]time.Time, 0, len(s.Times))
		for _, raw := range s.Times {
			t, err := parseTime(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Type, err)
			}
			times = append(times, t)
		}
		calendar = FixedTimes(times...)
	default:
		return nil, missing(s.Type, "times or cron")
	}
	if s.Type == TypeMinWeightsAtTimes {
		return NewMinWeightsAtTimes(s.Limit.Scalar, calendar), nil
	}
	return NewMaxWeightsAtTimes(s.Limit.Scalar, calendar), nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func missing(typ, field string) error {
	return fmt.Errorf("%s: %s is required", typ, field)
}
