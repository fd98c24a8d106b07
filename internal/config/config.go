// Package config loads and validates the calibration configuration file.
// Validation failures are fatal at startup, before any agent begins.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/hydrocal/internal/eval"
	"github.com/cwbudde/hydrocal/internal/param"
	"github.com/cwbudde/hydrocal/internal/search"
)

// Scope selects how parameter sets are shared across calibration units.
type Scope string

const (
	ScopeUniform     Scope = "uniform"
	ScopeIndependent Scope = "independent"
	ScopeExplicit    Scope = "explicit"
)

// Error reports an invalid configuration. Always fatal for the whole run.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return "config error: " + e.Field + ": " + e.Reason
}

// Duration wraps time.Duration with YAML string parsing ("4h", "90s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// General holds run-wide settings.
type General struct {
	Workdir    string `yaml:"workdir"`
	StateDir   string `yaml:"state_dir"`
	Iterations int    `yaml:"iterations"`
	Seed       int64  `yaml:"seed"`
}

// Strategy selects the scoping of parameter sets across units.
type Strategy struct {
	Scope  Scope   `yaml:"scope"`
	Groups []Group `yaml:"groups,omitempty"`
}

// Group is one explicit-scope grouping of units sharing a parameter set.
type Group struct {
	Name  string   `yaml:"name"`
	Units []string `yaml:"units"`
}

// AlgorithmOptions are PSO swarm coefficients.
type AlgorithmOptions struct {
	C1 float64 `yaml:"c1"`
	C2 float64 `yaml:"c2"`
	W  float64 `yaml:"w"`
}

// Algorithm selects and parameterizes the search strategy.
type Algorithm struct {
	Name         string           `yaml:"name"`
	Neighborhood float64          `yaml:"neighborhood"`
	Particles    int              `yaml:"particles"`
	Pool         int              `yaml:"pool"`
	Options      AlgorithmOptions `yaml:"options"`
}

// Objective names the registered objective function, its optimization
// direction, and the evaluation window.
type Objective struct {
	Name            string    `yaml:"name"`
	Direction       string    `yaml:"direction"`
	EvaluationStart time.Time `yaml:"evaluation_start"`
	EvaluationStop  time.Time `yaml:"evaluation_stop"`
}

// Model describes the external model executable contract.
type Model struct {
	Binary     string   `yaml:"binary"`
	Args       []string `yaml:"args"`
	OutputFile string   `yaml:"output_file"`
	Timeout    Duration `yaml:"timeout"`
	LogFile    string   `yaml:"log_file"`
}

// Convergence configures the optional minimum-improvement stopping
// criterion. Disabled by default; the iteration budget always applies.
type Convergence struct {
	Enabled   bool    `yaml:"enabled"`
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
}

// UnitParameter is one calibratable parameter declaration.
type UnitParameter struct {
	Name  string  `yaml:"name"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Init  float64 `yaml:"init"`
	Fixed bool    `yaml:"fixed"`
}

// Unit is one calibration unit (catchment/nexus).
type Unit struct {
	ID         string          `yaml:"id"`
	Observed   string          `yaml:"observed"`
	Parameters []UnitParameter `yaml:"parameters"`
}

// Config is the complete calibration configuration.
type Config struct {
	General     General     `yaml:"general"`
	Strategy    Strategy    `yaml:"strategy"`
	Algorithm   Algorithm   `yaml:"algorithm"`
	Objective   Objective   `yaml:"objective"`
	Model       Model       `yaml:"model"`
	Convergence Convergence `yaml:"convergence"`
	Units       []Unit      `yaml:"units"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse defaults and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.General.Workdir == "" {
		c.General.Workdir = "."
	}
	if c.General.StateDir == "" {
		c.General.StateDir = c.General.Workdir + "/state"
	}
	if c.Strategy.Scope == "" {
		c.Strategy.Scope = ScopeIndependent
	}
	if c.Algorithm.Neighborhood == 0 {
		c.Algorithm.Neighborhood = search.DefaultNeighborhood
	}
	if c.Algorithm.Particles == 0 {
		c.Algorithm.Particles = search.DefaultParticles
	}
	if c.Algorithm.Pool == 0 {
		c.Algorithm.Pool = 1
	}
	if c.Algorithm.Options == (AlgorithmOptions{}) {
		c.Algorithm.Options = AlgorithmOptions{
			C1: search.DefaultCognitive,
			C2: search.DefaultSocial,
			W:  search.DefaultInertia,
		}
	}
	if c.Convergence.Enabled {
		if c.Convergence.Patience == 0 {
			c.Convergence.Patience = 3
		}
		if c.Convergence.Threshold == 0 {
			c.Convergence.Threshold = 0.001
		}
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if c.General.Iterations < 1 {
		return &Error{Field: "general.iterations", Reason: "must be at least 1"}
	}
	if _, err := search.ParseAlgorithm(c.Algorithm.Name); err != nil {
		return &Error{Field: "algorithm.name", Reason: err.Error()}
	}
	if c.Algorithm.Neighborhood < 0 || c.Algorithm.Neighborhood > 1 {
		return &Error{Field: "algorithm.neighborhood", Reason: "must be in (0, 1]"}
	}
	if c.Algorithm.Pool < 1 {
		return &Error{Field: "algorithm.pool", Reason: "must be at least 1"}
	}
	if c.Objective.Name == "" {
		return &Error{Field: "objective.name", Reason: "cannot be empty"}
	}
	if _, ok := eval.Lookup(c.Objective.Name); !ok {
		return &Error{Field: "objective.name", Reason: fmt.Sprintf("unknown objective %q", c.Objective.Name)}
	}
	if _, err := eval.ParseDirection(c.Objective.Direction); err != nil {
		return &Error{Field: "objective.direction", Reason: err.Error()}
	}
	if !c.Objective.EvaluationStart.IsZero() && !c.Objective.EvaluationStop.IsZero() &&
		!c.Objective.EvaluationStart.Before(c.Objective.EvaluationStop) {
		return &Error{Field: "objective.evaluation_start", Reason: "must precede evaluation_stop"}
	}
	if c.Model.Binary == "" {
		return &Error{Field: "model.binary", Reason: "cannot be empty"}
	}
	if c.Model.OutputFile == "" {
		return &Error{Field: "model.output_file", Reason: "cannot be empty"}
	}
	if len(c.Units) == 0 {
		return &Error{Field: "units", Reason: "at least one calibration unit is required"}
	}

	ids := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if u.ID == "" {
			return &Error{Field: fmt.Sprintf("units[%d].id", i), Reason: "cannot be empty"}
		}
		if ids[u.ID] {
			return &Error{Field: fmt.Sprintf("units[%d].id", i), Reason: "duplicate unit id " + u.ID}
		}
		ids[u.ID] = true
		if u.Observed == "" {
			return &Error{Field: fmt.Sprintf("units[%d].observed", i), Reason: "cannot be empty"}
		}
		if len(u.Parameters) == 0 {
			return &Error{Field: fmt.Sprintf("units[%d].parameters", i), Reason: "cannot be empty"}
		}
		if _, err := u.ParameterSet(); err != nil {
			return &Error{Field: fmt.Sprintf("units[%d].parameters", i), Reason: err.Error()}
		}
	}

	switch c.Strategy.Scope {
	case ScopeUniform, ScopeIndependent:
		if len(c.Strategy.Groups) > 0 {
			return &Error{Field: "strategy.groups", Reason: "groups are only valid with explicit scope"}
		}
	case ScopeExplicit:
		if len(c.Strategy.Groups) == 0 {
			return &Error{Field: "strategy.groups", Reason: "explicit scope requires groups"}
		}
		seen := make(map[string]bool)
		for _, g := range c.Strategy.Groups {
			for _, id := range g.Units {
				if !ids[id] {
					return &Error{Field: "strategy.groups", Reason: "unknown unit " + id}
				}
				if seen[id] {
					return &Error{Field: "strategy.groups", Reason: "unit " + id + " appears in multiple groups"}
				}
				seen[id] = true
			}
		}
		for id := range ids {
			if !seen[id] {
				return &Error{Field: "strategy.groups", Reason: "unit " + id + " missing from groups"}
			}
		}
	default:
		return &Error{Field: "strategy.scope", Reason: fmt.Sprintf("unknown scope %q", c.Strategy.Scope)}
	}

	return nil
}

// ParameterSet builds the parameter set declared by a unit.
func (u *Unit) ParameterSet() (*param.Set, error) {
	params := make([]param.Parameter, len(u.Parameters))
	for i, p := range u.Parameters {
		params[i] = param.Parameter{
			Name:  p.Name,
			Min:   p.Min,
			Max:   p.Max,
			Value: p.Init,
			Fixed: p.Fixed,
		}
	}
	return param.NewSet(params)
}
