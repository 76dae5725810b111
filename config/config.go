// Package config loads the run configuration of the banditformula command
// from YAML (or JSON) with environment overrides, and turns its sections
// into the engines of the library packages.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/cache"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/fingerprint"
	"github.com/sw965/banditformula/logging"
	"github.com/sw965/banditformula/pool"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging     logging.Config    `yaml:"logging" json:"logging"`
	Problem     ProblemConfig     `yaml:"problem" json:"problem"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Pool        PoolConfig        `yaml:"pool" json:"pool"`
	EDA         EDAConfig         `yaml:"eda" json:"eda"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing" json:"tracing"`
	Seed        uint64            `yaml:"seed" json:"seed"`
}

// ProblemConfig describes the bandit problems formulas are evaluated on.
type ProblemConfig struct {
	// Sampler is a sampler name (setup0..setup4) or "fixed:p1,p2,...".
	Sampler string `yaml:"sampler" json:"sampler"`
	MinArms int    `yaml:"min_arms" json:"min_arms"`
	MaxArms int    `yaml:"max_arms" json:"max_arms"`
	Horizon int    `yaml:"horizon" json:"horizon"`
	// Regret is cumulative or simple.
	Regret string `yaml:"regret" json:"regret"`
	Trials int    `yaml:"trials" json:"trials"`
}

type FingerprintConfig struct {
	Samples int `yaml:"samples" json:"samples"`
	Arms    int `yaml:"arms" json:"arms"`
	// Mode is raw or rank.
	Mode string `yaml:"mode" json:"mode"`
	// Required lists variables every kept formula must use.
	Required []int  `yaml:"required" json:"required"`
	Seed     uint64 `yaml:"seed" json:"seed"`
}

type SearchConfig struct {
	// Builder is compact, flat or rpn.
	Builder   string    `yaml:"builder" json:"builder"`
	MaxSize   int       `yaml:"max_size" json:"max_size"`
	Constants []float64 `yaml:"constants" json:"constants"`
	Learnable bool      `yaml:"learnable" json:"learnable"`
	UnaryOps  []string  `yaml:"unary_ops" json:"unary_ops"`
	BinaryOps []string  `yaml:"binary_ops" json:"binary_ops"`
	// Depth is the receding-horizon lookahead.
	Depth         int `yaml:"depth" json:"depth"`
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// MaxNodes is the breadth-first node budget.
	MaxNodes int `yaml:"max_nodes" json:"max_nodes"`
	// EnumerationDepth bounds the builder actions of enumerate and pool.
	// Zero means unbounded, which the flat builder does not allow.
	EnumerationDepth int `yaml:"enumeration_depth" json:"enumeration_depth"`
	// Simulations and RolloutSteps configure the mcts driver.
	Simulations  int     `yaml:"simulations" json:"simulations"`
	RolloutSteps int     `yaml:"rollout_steps" json:"rollout_steps"`
	Exploration  float64 `yaml:"exploration" json:"exploration"`
}

type PoolConfig struct {
	// Policy is the inner policy, in bandit.ParsePolicy syntax.
	Policy     string `yaml:"policy" json:"policy"`
	Iterations int    `yaml:"iterations" json:"iterations"`
	// Pulls per iteration; zero means one per formula.
	Pulls int `yaml:"pulls" json:"pulls"`
	// Reward is negate or exp.
	Reward      string  `yaml:"reward" json:"reward"`
	RewardScale float64 `yaml:"reward_scale" json:"reward_scale"`
	Top         int     `yaml:"top" json:"top"`
	// Runs is the number of independent runs per policy in compare.
	Runs    int `yaml:"runs" json:"runs"`
	Workers int `yaml:"workers" json:"workers"`
}

type EDAConfig struct {
	Population  int     `yaml:"population" json:"population"`
	Elite       int     `yaml:"elite" json:"elite"`
	Generations int     `yaml:"generations" json:"generations"`
	InitStd     float64 `yaml:"init_std" json:"init_std"`
	MinStd      float64 `yaml:"min_std" json:"min_std"`
	Workers     int     `yaml:"workers" json:"workers"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Badger persists the cache; both fields empty keeps it in process memory.
	Dir      string `yaml:"dir" json:"dir"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr" json:"addr"`
}

// TracingConfig enables span export as JSON on stderr.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Pretty  bool `yaml:"pretty" json:"pretty"`
}

func DefaultConfig() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		Problem: ProblemConfig{
			Sampler: "setup1",
			MinArms: 2,
			MaxArms: 10,
			Horizon: 100,
			Regret:  "cumulative",
			Trials:  1,
		},
		Fingerprint: FingerprintConfig{
			Samples: 100,
			Arms:    2,
			Mode:    "rank",
			Seed:    1,
		},
		Search: SearchConfig{
			Builder:       "rpn",
			MaxSize:       5,
			Constants:     builder.RPNConstants,
			UnaryOps:      []string{"sqrt", "log", "negate", "invert", "abs"},
			BinaryOps:     []string{"add", "subtract", "multiply", "divide", "min", "max"},
			Depth:         2,
			MaxIterations: 10,
			MaxNodes:      10000,
			Simulations:   1000,
		},
		Pool: PoolConfig{
			Policy:      "formula5:2.5",
			Iterations:  100,
			Reward:      "negate",
			RewardScale: 1,
			Top:         pool.ReportSize,
			Runs:        10,
			Workers:     4,
		},
		EDA: EDAConfig{
			Population:  50,
			Elite:       10,
			Generations: 20,
			InitStd:     1,
			MinStd:      1e-3,
			Workers:     4,
		},
		Seed: 1664,
	}
}

// Load reads path over DefaultConfig, applies the BANDITFORMULA_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			if jsonErr := json.Unmarshal(data, &c); jsonErr != nil {
				return c, fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
			}
		}
	}
	loadFromEnv(&c)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func loadFromEnv(c *Config) {
	if v := os.Getenv("BANDITFORMULA_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Seed = u
		}
	}
	if v := os.Getenv("BANDITFORMULA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BANDITFORMULA_LOG_DIR"); v != "" {
		c.Logging.LogDir = v
	}
	if v := os.Getenv("BANDITFORMULA_CACHE_DIR"); v != "" {
		c.Cache.Enabled = true
		c.Cache.Dir = v
	}
	if v := os.Getenv("BANDITFORMULA_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}
}

func (c Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if _, err := c.Problem.Objective(nil); err != nil {
		return fmt.Errorf("problem: %w", err)
	}
	if _, err := c.Fingerprint.ParseMode(); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	if c.Fingerprint.Samples < 1 || c.Fingerprint.Arms < 1 {
		return fmt.Errorf("fingerprint: samples=%d arms=%d", c.Fingerprint.Samples, c.Fingerprint.Arms)
	}
	if _, err := c.Search.Factory(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if c.Search.Builder == "compact" && c.Search.MaxSize < 1 {
		return fmt.Errorf("search: compact builderにはmax_sizeが必要です: %d", c.Search.MaxSize)
	}
	if c.Search.EnumerationDepth < 0 {
		return fmt.Errorf("search: enumeration_depth=%d", c.Search.EnumerationDepth)
	}
	if c.Search.Depth < 1 || c.Search.MaxNodes < 1 {
		return fmt.Errorf("search: depth=%d max_nodes=%d", c.Search.Depth, c.Search.MaxNodes)
	}
	if c.Search.Simulations < 1 || c.Search.RolloutSteps < 0 || c.Search.Exploration < 0 {
		return fmt.Errorf("search: simulations=%d rollout_steps=%d exploration=%v",
			c.Search.Simulations, c.Search.RolloutSteps, c.Search.Exploration)
	}
	if _, err := bandit.ParsePolicy(c.Pool.Policy); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if _, err := c.Pool.RewardFunc(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.Pool.Iterations < 1 || c.Pool.Runs < 1 {
		return fmt.Errorf("pool: iterations=%d runs=%d", c.Pool.Iterations, c.Pool.Runs)
	}
	if c.EDA.Elite < 2 || c.EDA.Population < c.EDA.Elite || c.EDA.Generations < 1 {
		return fmt.Errorf("eda: population=%d elite=%d generations=%d", c.EDA.Population, c.EDA.Elite, c.EDA.Generations)
	}
	if c.Metrics.Addr != "" && !c.Metrics.Enabled {
		return errors.New("metrics: addrが設定されていますがenabledがfalseです")
	}
	return nil
}

// Objective builds the rollout objective. c may be nil.
func (p ProblemConfig) Objective(c *cache.Cache) (*bandit.Objective, error) {
	s, err := bandit.ParseSampler(p.Sampler)
	if err != nil {
		return nil, err
	}
	if s.Kind != bandit.FixedSampler {
		s.MinArms, s.MaxArms = p.MinArms, p.MaxArms
	}
	kind, err := bandit.ParseRegretKind(p.Regret)
	if err != nil {
		return nil, err
	}
	o := &bandit.Objective{Sampler: s, Horizon: p.Horizon, Kind: kind, Trials: p.Trials, Cache: c}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (f FingerprintConfig) ParseMode() (fingerprint.Mode, error) {
	return fingerprint.ParseMode(f.Mode)
}

// BuilderConfig builds the symbol set over the bandit variables.
func (s SearchConfig) BuilderConfig() (builder.Config, error) {
	cfg := builder.Config{
		NumVariables:      bandit.NumVariables,
		Constants:         s.Constants,
		LearnableConstant: s.Learnable,
		MaxSize:           s.MaxSize,
	}
	for _, name := range s.UnaryOps {
		op, err := expr.ParseUnaryOp(name)
		if err != nil {
			return cfg, err
		}
		cfg.UnaryOps = append(cfg.UnaryOps, op)
	}
	for _, name := range s.BinaryOps {
		op, err := expr.ParseBinaryOp(name)
		if err != nil {
			return cfg, err
		}
		cfg.BinaryOps = append(cfg.BinaryOps, op)
	}
	return cfg, cfg.Validate()
}

// Factory returns a factory of the configured builder. The returned
// factory never fails: the builder is constructed once here.
func (s SearchConfig) Factory() (builder.Factory, error) {
	cfg, err := s.BuilderConfig()
	if err != nil {
		return nil, err
	}
	var newState func() (builder.State, error)
	switch s.Builder {
	case "compact":
		newState = func() (builder.State, error) { return builder.NewCompact(cfg) }
	case "flat":
		newState = func() (builder.State, error) { return builder.NewFlat(cfg) }
	case "rpn":
		newState = func() (builder.State, error) { return builder.NewRPN(cfg) }
	default:
		return nil, fmt.Errorf("未知のbuilder: %q", s.Builder)
	}
	if _, err := newState(); err != nil {
		return nil, err
	}
	return func() builder.State {
		st, _ := newState()
		return st
	}, nil
}

// EnumerationMaxDepth is the depth bound passed to search.Enumerate. Flat
// never terminates, so it needs a positive bound.
func (s SearchConfig) EnumerationMaxDepth() (int, error) {
	if s.EnumerationDepth < 0 {
		return 0, fmt.Errorf("enumeration_depthが不正: %d", s.EnumerationDepth)
	}
	if s.Builder == "flat" && s.EnumerationDepth == 0 {
		return 0, errors.New("flat builderにはenumeration_depthが必要です")
	}
	return s.EnumerationDepth, nil
}

func (p PoolConfig) RewardFunc() (pool.RewardFunc, error) {
	switch p.Reward {
	case "", "negate":
		return pool.NegateReward, nil
	case "exp":
		if p.RewardScale <= 0 {
			return nil, fmt.Errorf("reward_scaleは正である必要があります: %v", p.RewardScale)
		}
		return pool.ExpReward(p.RewardScale), nil
	}
	return nil, fmt.Errorf("未知のreward: %q", p.Reward)
}

// InnerPolicy returns a fresh inner policy for a formula pool.
func (p PoolConfig) InnerPolicy() (bandit.Policy, error) {
	f, err := bandit.ParsePolicy(p.Policy)
	if err != nil {
		return nil, err
	}
	return f(), nil
}
