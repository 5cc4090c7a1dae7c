// Package config loads and validates loom workflow files.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the top-level workflow document (spec.md §6).
type Config struct {
	Name        string        `yaml:"name"`
	Mode        string        `yaml:"mode"`
	Setup       []Step        `yaml:"setup,omitempty"`
	Map         MapConfig     `yaml:"map"`
	Reduce      *ReduceConfig `yaml:"reduce,omitempty"`
	Settings    Settings      `yaml:"settings,omitempty"`
	Gates       []Gate        `yaml:"gates,omitempty"`
	Permissions *Permissions  `yaml:"permissions,omitempty"`
	Preamble    string        `yaml:"preamble,omitempty"`
}

// MapConfig is the map-phase configuration: where work items come from, the
// per-item template, and the bounds the coordinator runs it under.
type MapConfig struct {
	Input           string        `yaml:"input"`
	JSONPath        string        `yaml:"json_path,omitempty"`
	AgentTemplate   AgentTemplate `yaml:"agent_template"`
	MaxParallel     int           `yaml:"max_parallel,omitempty"`
	TimeoutPerAgent Duration      `yaml:"timeout_per_agent,omitempty"`
	RetryOnFailure  uint32        `yaml:"retry_on_failure,omitempty"`
	Filter          string        `yaml:"filter,omitempty"`
	SortBy          string        `yaml:"sort_by,omitempty"`
	MaxItems        int           `yaml:"max_items,omitempty"`
	Offset          int           `yaml:"offset,omitempty"`
}

// AgentTemplate is the per-item step chain run inside each agent's worktree.
type AgentTemplate struct {
	Commands []Step `yaml:"commands"`
}

// ReduceConfig is the post-map aggregation phase, run once against the
// parent branch after every item has completed or exhausted retries.
type ReduceConfig struct {
	Commands []Step `yaml:"commands"`
}

// TestStep runs a command and, on failure, an optional recovery sub-workflow.
type TestStep struct {
	Command   string     `yaml:"command"`
	OnFailure *TestRetry `yaml:"on_failure,omitempty"`
}

// TestRetry is the recovery behavior for a failed TestStep.
type TestRetry struct {
	Claude         string `yaml:"claude,omitempty"`
	MaxAttempts    int    `yaml:"max_attempts,omitempty"`
	FailWorkflow   bool   `yaml:"fail_workflow,omitempty"`
	CommitRequired bool   `yaml:"commit_required,omitempty"`
}

// ForeachStep expands a sub-template once per element of a list produced by Input.
type ForeachStep struct {
	Input    string `yaml:"input"`
	Commands []Step `yaml:"commands"`
}

// WriteFileStep writes interpolated content to a path relative to the item's worktree.
type WriteFileStep struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// OnFailure is a small sub-workflow run on a step transition (also reused for on_success).
type OnFailure struct {
	Claude      string `yaml:"claude,omitempty"`
	Shell       string `yaml:"shell,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
}

// Step is the command a setup/agent_template/reduce list runs. yaml.v3 has no
// native sum type, so — matching the teacher's flat-struct Concern/Gate style —
// every variant is an optional field; exactly one of
// Claude/Shell/Test/Foreach/WriteFile/Name is expected to be set per step.
type Step struct {
	Claude         string             `yaml:"claude,omitempty"`
	Shell          string             `yaml:"shell,omitempty"`
	Test           *TestStep          `yaml:"test,omitempty"`
	Foreach        *ForeachStep       `yaml:"foreach,omitempty"`
	WriteFile      *WriteFileStep     `yaml:"write_file,omitempty"`
	Name           string             `yaml:"name,omitempty"`
	CommitRequired bool               `yaml:"commit_required,omitempty"`
	Timeout        Duration           `yaml:"timeout,omitempty"`
	CaptureOutput  string             `yaml:"capture_output,omitempty"`
	OnFailure      *OnFailure         `yaml:"on_failure,omitempty"`
	OnSuccess      *OnFailure         `yaml:"on_success,omitempty"`
	OnExitCode     map[int]*OnFailure `yaml:"on_exit_code,omitempty"`
	Env            map[string]string  `yaml:"env,omitempty"`
}

// Kind returns a short label for the step's active variant.
func (s Step) Kind() string {
	switch {
	case s.Claude != "":
		return "claude"
	case s.Shell != "":
		return "shell"
	case s.Test != nil:
		return "test"
	case s.Foreach != nil:
		return "foreach"
	case s.WriteFile != nil:
		return "write_file"
	case s.Name != "":
		return s.Name
	}
	return "unknown"
}

// Gate is a pre-commit quality check (linter, formatter, type checker).
type Gate struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
}

// Permissions mirrors the Claude Code .claude/settings.json permissions block.
// When set, loom writes this into each worktree before invoking the agent.
type Permissions struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// Settings holds job-wide knobs outside the map/reduce phases.
type Settings struct {
	BranchPrefix     string   `yaml:"branch_prefix,omitempty"`
	MaxWorktrees     int      `yaml:"max_worktrees,omitempty"`
	WorktreeRetain   bool     `yaml:"worktree_retain,omitempty"`
	CleanupGrace     Duration `yaml:"cleanup_grace,omitempty"`
	AnnotateReviewed bool     `yaml:"annotate_reviewed,omitempty"`
	CheckpointDir    string   `yaml:"checkpoint_dir,omitempty"`
	CheckpointRetain int      `yaml:"checkpoint_retain,omitempty"`
	RequiresVersion  string   `yaml:"requires_version,omitempty"`
}

// DefaultPreamble is prepended to every agent prompt when no custom preamble is configured.
const DefaultPreamble = "You are running non-interactively. Do not ask questions or wait for confirmation.\nIf something is unclear, make your best judgement and proceed.\nCommit your changes with git commit before you finish."

// ResolvePreamble returns the effective preamble: custom override, then
// workflow-level preamble, then DefaultPreamble.
func (cfg *Config) ResolvePreamble(custom string) string {
	if custom != "" {
		return custom
	}
	if cfg.Preamble != "" {
		return cfg.Preamble
	}
	return DefaultPreamble
}

// Load reads and parses a workflow file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow config: %w", err)
	}
	return parse(data)
}

// Hash returns the workflow_hash a JobState is stamped with: a hex sha256 of
// the raw workflow bytes, so ResumeController can detect a workflow file
// that changed out from under a checkpointed job.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// LoadRaw reads a workflow file and returns both the parsed Config and its
// raw bytes, so callers (cli run/resume) can stamp JobState.WorkflowHash
// without re-reading the file.
func LoadRaw(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workflow config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, nil, err
	}
	return cfg, data, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.Settings.BranchPrefix == "" {
		cfg.Settings.BranchPrefix = "loom/"
	}
	if cfg.Map.MaxParallel == 0 {
		cfg.Map.MaxParallel = 10
	}
	if cfg.Settings.CleanupGrace == 0 {
		cfg.Settings.CleanupGrace = Duration(5 * time.Second)
	}
	if cfg.Settings.CheckpointRetain == 0 {
		cfg.Settings.CheckpointRetain = 10
	}
	if cfg.Mode == "" {
		cfg.Mode = "mapreduce"
	}

	return &cfg, nil
}

// Validate checks required fields and referential integrity, returning all
// errors found rather than stopping at the first (matching the teacher's
// config.Validate, which accumulates errs for a single user-facing report).
func Validate(cfg *Config, loomVersion string) []error {
	var errs []error

	if cfg.Mode != "" && cfg.Mode != "mapreduce" {
		errs = append(errs, fmt.Errorf("mode: only %q is supported, got %q", "mapreduce", cfg.Mode))
	}
	if cfg.Map.Input == "" {
		errs = append(errs, fmt.Errorf("map.input is required"))
	}
	if len(cfg.Map.AgentTemplate.Commands) == 0 {
		errs = append(errs, fmt.Errorf("map.agent_template.commands: at least one step is required"))
	}
	if cfg.Map.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("map.max_parallel: must be non-negative"))
	}
	if cfg.Map.Offset < 0 {
		errs = append(errs, fmt.Errorf("map.offset: must be non-negative"))
	}

	errs = append(errs, ValidateGates(cfg.Gates)...)

	if cfg.Settings.RequiresVersion != "" {
		if vErr := checkRequiresVersion(cfg.Settings.RequiresVersion, loomVersion); vErr != nil {
			errs = append(errs, vErr)
		}
	}

	return errs
}

// checkRequiresVersion validates that loomVersion satisfies the workflow's
// declared semver constraint. "dev" builds (no real release tag) always pass.
func checkRequiresVersion(constraint, loomVersion string) error {
	if loomVersion == "" || loomVersion == "dev" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("settings.requires_version: invalid constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(loomVersion)
	if err != nil {
		return fmt.Errorf("settings.requires_version: could not parse loom version %q: %w", loomVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("workflow requires loom %s, running %s", constraint, loomVersion)
	}
	return nil
}

// ValidateGates checks gate name/run presence and uniqueness.
func ValidateGates(gates []Gate) []error {
	var errs []error
	names := make(map[string]bool)
	for i, g := range gates {
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: name is required", i))
		} else if names[g.Name] {
			errs = append(errs, fmt.Errorf("gates[%d]: duplicate name %q", i, g.Name))
		} else {
			names[g.Name] = true
		}
		if g.Run == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: run is required", i))
		}
	}
	return errs
}
