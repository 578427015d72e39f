package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/pipeline"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/schedule"
	"github.com/densityaware/shockharness/internal/selector"
	"github.com/densityaware/shockharness/internal/session"
	"github.com/densityaware/shockharness/internal/shock"
	"github.com/densityaware/shockharness/internal/stability"
)

// #region types
// Experiment is one experiment file: a batch of rollouts sharing shock, control and
// analysis settings.
type Experiment struct {
	Name           string          `json:"name" yaml:"name"`
	Rollouts       int             `json:"rollouts" yaml:"rollouts"`
	Seed           int64           `json:"seed" yaml:"seed"`
	Horizon        int             `json:"horizon" yaml:"horizon"`
	StepsPerSecond float64         `json:"steps_per_second" yaml:"steps_per_second"`
	Shock          ShockConfig     `json:"shock" yaml:"shock"`
	Control        ControlConfig   `json:"control" yaml:"control"`
	Stability      StabilityConfig `json:"stability" yaml:"stability"`
	Runtime        RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ShockConfig selects the disturbance family and where it may land.
type ShockConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Model         int           `json:"model" yaml:"model"`
	NetworkScaler int           `json:"network_scaler" yaml:"network_scaler"`
	Bidirectional bool          `json:"bidirectional" yaml:"bidirectional"`
	HighSpeed     bool          `json:"high_speed" yaml:"high_speed"`
	GlobalStart   int           `json:"global_start" yaml:"global_start"`
	GlobalEnd     int           `json:"global_end" yaml:"global_end"`
	ArmStep       *int          `json:"arm_step,omitempty" yaml:"arm_step,omitempty"` // nil: global_start - 1
	Kind          string        `json:"kind" yaml:"kind"`
	SampleSize    int           `json:"sample_size" yaml:"sample_size"`
	Overlap       string        `json:"overlap" yaml:"overlap"`
	Rule          selector.Rule `json:"rule" yaml:"rule"`
}

// UnmarshalJSON decodes over the current value, except that a rule present in the
// input replaces the current rule instead of merging into it.
func (s *ShockConfig) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if _, ok := keys["rule"]; ok {
		s.Rule = selector.Rule{}
	}
	type plain ShockConfig
	return json.Unmarshal(data, (*plain)(s))
}

// UnmarshalYAML is UnmarshalJSON for YAML.
func (s *ShockConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "rule" {
				s.Rule = selector.Rule{}
			}
		}
	}
	type plain ShockConfig
	return value.Decode((*plain)(s))
}

// ControlConfig describes the control-law swap at warmup and the command bounds.
type ControlConfig struct {
	WarmupStep int                `json:"warmup_step" yaml:"warmup_step"`
	Method     string             `json:"method" yaml:"method"`
	DefaultLaw string             `json:"default_law" yaml:"default_law"`
	Params     map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	MaxAccel   float64            `json:"max_accel" yaml:"max_accel"`
	MaxDecel   float64            `json:"max_decel" yaml:"max_decel"`
}

// StabilityConfig drives the offline damping analysis.
type StabilityConfig struct {
	Emissions      string `json:"emissions" yaml:"emissions"` // glob of emission CSV files
	WindowStart    *int   `json:"window_start,omitempty" yaml:"window_start,omitempty"`
	WindowEnd      *int   `json:"window_end,omitempty" yaml:"window_end,omitempty"`
	Leader         string `json:"leader,omitempty" yaml:"leader,omitempty"`
	Reference      string `json:"reference,omitempty" yaml:"reference,omitempty"`
	ReferenceIndex int    `json:"reference_index" yaml:"reference_index"`
}

// RuntimeConfig holds the outer collaborators. Environment variables override it.
type RuntimeConfig struct {
	DBPath       string   `json:"db_path" yaml:"db_path"`
	SimAddr      string   `json:"sim_addr" yaml:"sim_addr"`
	KafkaBrokers []string `json:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic" yaml:"kafka_topic"`
	LogFile      string   `json:"log_file" yaml:"log_file"`
	LogLevel     string   `json:"log_level" yaml:"log_level"`
}

// ValidationError reports one invalid field. Err, when set, is the underlying cause.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// #endregion types

// #region defaults
// Default is the ring stability evaluation: 22 vehicles, one 1 s speed cap of 3 m/s on
// a default-law vehicle between steps 8000 and 11500.
func Default() Experiment {
	return Experiment{
		Name:           "ring-stability",
		Rollouts:       1,
		Seed:           42,
		Horizon:        11500,
		StepsPerSecond: 10,
		Shock: ShockConfig{
			Enabled:       true,
			Model:         shock.StabilityModelID,
			NetworkScaler: shock.DefaultShaping().NetworkScaler,
			GlobalStart:   8000,
			GlobalEnd:     11500,
			Kind:          string(registry.OverrideMaxSpeed),
			SampleSize:    1,
			Overlap:       string(schedule.PolicyMerge),
			Rule:          selector.RingRule("idm"),
		},
		Control: ControlConfig{
			WarmupStep: 7999,
			Method:     "idm",
			DefaultLaw: "idm",
			MaxAccel:   control.DefaultLimits().MaxAccel,
			MaxDecel:   control.DefaultLimits().MaxDecel,
		},
		Stability: StabilityConfig{
			Emissions:      "emissions/*.csv",
			ReferenceIndex: stability.SingleLawReferenceIndex,
		},
		Runtime: RuntimeConfig{
			DBPath:     "shockharness.db",
			KafkaTopic: "shock-events",
			LogLevel:   "info",
		},
	}
}

// #endregion defaults

// #region load
// Load reads an experiment file over the defaults. Files ending in .json are read as
// JSON, everything else as YAML. Fields absent from the file keep their default, but a
// shock rule given in the file replaces the default rule as a whole.
func Load(path string) (Experiment, error) {
	exp := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return exp, fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &exp)
	} else {
		err = yaml.Unmarshal(data, &exp)
	}
	if err != nil {
		return exp, fmt.Errorf("parse config %s: %w", path, err)
	}
	return exp, nil
}

// ApplyEnv overrides runtime settings from the environment (SHOCK_DB, SIM_ADDR,
// SHOCK_KAFKA_BROKERS, SHOCK_KAFKA_TOPIC, SHOCK_LOG_FILE, SHOCK_LOG_LEVEL).
func (e *Experiment) ApplyEnv(getenv func(string) string) {
	or := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	e.Runtime.DBPath = or("SHOCK_DB", e.Runtime.DBPath)
	e.Runtime.SimAddr = or("SIM_ADDR", e.Runtime.SimAddr)
	e.Runtime.KafkaTopic = or("SHOCK_KAFKA_TOPIC", e.Runtime.KafkaTopic)
	e.Runtime.LogFile = or("SHOCK_LOG_FILE", e.Runtime.LogFile)
	e.Runtime.LogLevel = or("SHOCK_LOG_LEVEL", e.Runtime.LogLevel)
	if v := getenv("SHOCK_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		e.Runtime.KafkaBrokers = brokers
	}
}

// #endregion load

// #region validate
// Validate checks the experiment before any rollout starts.
func (e Experiment) Validate() error {
	if e.Rollouts < 1 {
		return &ValidationError{Field: "rollouts", Reason: fmt.Sprintf("%d < 1", e.Rollouts)}
	}
	if e.StepsPerSecond <= 0 {
		return &ValidationError{Field: "steps_per_second", Reason: "must be positive"}
	}
	s := e.Shock
	if s.GlobalEnd <= s.GlobalStart {
		return &ValidationError{Field: "shock.global_end", Reason: fmt.Sprintf("%d <= global_start %d", s.GlobalEnd, s.GlobalStart),
			Err: schedule.ErrInvalidSpan}
	}
	if e.Horizon <= s.GlobalStart && s.Enabled {
		return &ValidationError{Field: "horizon", Reason: fmt.Sprintf("%d ends before the shock window opens", e.Horizon)}
	}
	if arm := e.armStep(); arm > s.GlobalEnd {
		return &ValidationError{Field: "shock.arm_step", Reason: fmt.Sprintf("%d after global_end", arm)}
	}
	if !registry.OverrideKind(s.Kind).Valid() {
		return &ValidationError{Field: "shock.kind", Reason: fmt.Sprintf("unknown override %q", s.Kind)}
	}
	if !schedule.OverlapPolicy(s.Overlap).Valid() {
		return &ValidationError{Field: "shock.overlap", Reason: fmt.Sprintf("unknown policy %q", s.Overlap)}
	}
	if s.SampleSize < 1 {
		return &ValidationError{Field: "shock.sample_size", Reason: fmt.Sprintf("%d < 1", s.SampleSize)}
	}
	if !lo.Contains(shock.KnownModels(), s.Model) {
		return &ValidationError{Field: "shock.model", Reason: "unknown model", Err: &shock.InvalidModelError{ID: s.Model}}
	}
	if err := s.Rule.Validate(); err != nil {
		return &ValidationError{Field: "shock.rule", Reason: err.Error(), Err: err}
	}
	if e.Control.MaxAccel <= 0 || e.Control.MaxDecel <= 0 {
		return &ValidationError{Field: "control.max_accel", Reason: "bounds must be positive"}
	}
	if e.Control.DefaultLaw == "" {
		return &ValidationError{Field: "control.default_law", Reason: "empty"}
	}
	if (e.Stability.Leader == "") != (e.Stability.Reference == "") {
		return &ValidationError{Field: "stability.reference", Reason: "leader and reference must be set together"}
	}
	return nil
}

// #endregion validate

// #region conversion
func (e Experiment) armStep() int {
	if e.Shock.ArmStep != nil {
		return *e.Shock.ArmStep
	}
	return e.Shock.GlobalStart - 1
}

// SessionConfig is the shock session part of the experiment.
func (e Experiment) SessionConfig() session.Config {
	return session.Config{
		Enabled:        e.Shock.Enabled,
		GlobalStart:    e.Shock.GlobalStart,
		GlobalEnd:      e.Shock.GlobalEnd,
		ArmStep:        e.armStep(),
		StepsPerSecond: e.StepsPerSecond,
		Kind:           registry.OverrideKind(e.Shock.Kind),
		Rule:           e.Shock.Rule,
		SampleSize:     e.Shock.SampleSize,
	}
}

// RolloutConfig is what every rollout of the batch runs with.
func (e Experiment) RolloutConfig() pipeline.RolloutConfig {
	return pipeline.RolloutConfig{
		Horizon: e.Horizon,
		ModelID: e.Shock.Model,
		Shaping: shock.Shaping{
			NetworkScaler: e.Shock.NetworkScaler,
			Bidirectional: e.Shock.Bidirectional,
			HighSpeed:     e.Shock.HighSpeed,
		},
		Session:    e.SessionConfig(),
		Policy:     schedule.OverlapPolicy(e.Shock.Overlap),
		WarmupStep: e.Control.WarmupStep,
		Method:     e.Control.Method,
		DefaultLaw: e.Control.DefaultLaw,
		LawParams:  e.Control.Params,
		Limits:     control.Limits{MaxAccel: e.Control.MaxAccel, MaxDecel: e.Control.MaxDecel},
	}
}

// AnalysisWindow is the configured damping window, defaulting to the lookout around
// the shock window.
func (e Experiment) AnalysisWindow() stability.Window {
	w := stability.DefaultWindow(e.Shock.GlobalStart, e.Shock.GlobalEnd)
	if e.Stability.WindowStart != nil {
		w.Start = *e.Stability.WindowStart
	}
	if e.Stability.WindowEnd != nil {
		w.End = *e.Stability.WindowEnd
	}
	return w
}

// Roles returns how each rollout's roles are chosen: the explicit pair when set,
// otherwise the id naming convention.
func (e Experiment) Roles() func(stability.Series) (stability.RoleConfig, error) {
	if e.Stability.Leader != "" {
		rc := stability.RoleConfig{Leader: e.Stability.Leader, Reference: e.Stability.Reference}
		return func(stability.Series) (stability.RoleConfig, error) { return rc, nil }
	}
	idx := e.Stability.ReferenceIndex
	return func(s stability.Series) (stability.RoleConfig, error) {
		if len(s) == 0 {
			return stability.RoleConfig{}, errors.New("no vehicles recorded")
		}
		return stability.ConventionRoles(s.IDs(), idx)
	}
}

// #endregion conversion
