// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads runr's effective configuration from an on-disk
// runr.yaml, layered over documented defaults. The loaded value is meant to
// be captured once into a run's config.snapshot.json at start; resume reads
// the snapshot, never this package, again.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runrhq/runr/internal/model"
)

// Defaults returns the documented default configuration (spec §9's design
// notes): tier0-only fast checks, two review rounds, one auto-resume, a
// 15-minute stall threshold, a 10-minute collision staleness window, and a
// 30s/2m/5m auto-resume backoff schedule.
func Defaults() model.Config {
	return model.Config{
		Mode:                model.ModeFlow,
		IntegrationBranch:   "main",
		RequireCleanTree:    true,
		RequireVerification: true,
		DepsPolicy:          model.DepsStrict,
		Allow:               []string{"**"},
		Lockfiles:           []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum"},
		TierCommands: map[model.Tier][]string{
			model.Tier0: {"true"},
		},
		MaxReviewRounds:      2,
		MaxAutoResumes:       1,
		WorkerCallTimeout:    45 * time.Minute,
		VerificationTimeout:  600 * time.Second,
		AutoResumeBackoff:    []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute},
		StallThreshold:       15 * time.Minute,
		CollisionStaleAfter:  10 * time.Minute,
		CollisionPolicy:      "serialize",
		MaxTicks:             200,
		TimeBudget:           6 * time.Hour,
		WorkerBinary:         "claude",
		UseIsolatedWorktree:  true,
		AutoResume:           true,
	}
}

// fileDoc mirrors model.Config's on-disk shape, with TierCommands rendered
// with string tier names the way a human would author runr.yaml by hand.
type fileDoc struct {
	Mode                 model.WorkflowMode      `yaml:"mode"`
	IntegrationBranch    string                  `yaml:"integration_branch"`
	RequireCleanTree     *bool                   `yaml:"require_clean_tree"`
	RequireVerification  *bool                   `yaml:"require_verification"`
	DepsPolicy           model.DepsPolicy        `yaml:"deps_policy"`
	AllowedDeps          []string                `yaml:"allowed_packages"`
	Allow                []string                `yaml:"allow"`
	Deny                 []string                `yaml:"deny"`
	Lockfiles            []string                `yaml:"lockfiles"`
	RiskTriggers         []string                `yaml:"risk_triggers"`
	TierCommands         map[string][]string     `yaml:"tier_commands"`
	MaxReviewRounds      int                     `yaml:"max_review_rounds"`
	MaxAutoResumes       int                     `yaml:"max_auto_resumes"`
	WorkerCallTimeout    time.Duration           `yaml:"worker_call_timeout"`
	VerificationTimeout  time.Duration           `yaml:"verification_timeout"`
	AutoResumeBackoff    []time.Duration         `yaml:"auto_resume_backoff"`
	StallThreshold       time.Duration           `yaml:"stall_threshold"`
	CollisionStaleAfter  time.Duration           `yaml:"collision_stale_after"`
	CollisionPolicy      string                  `yaml:"collision_policy"`
	MaxTicks             int                     `yaml:"max_ticks"`
	TimeBudget           time.Duration           `yaml:"time_budget"`
	WorkerBinary         string                  `yaml:"worker_binary"`
	FallbackWorkerBinary string                  `yaml:"fallback_worker_binary"`
	UseIsolatedWorktree  *bool                   `yaml:"use_isolated_worktree"`
	AutoResume           *bool                   `yaml:"auto_resume"`
}

// Load reads and parses runr.yaml at path, layering its fields over
// Defaults(). A missing file is not an error: Load returns Defaults().
func Load(path string) (model.Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return model.Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyOverrides(&cfg, doc)
	return cfg, nil
}

func applyOverrides(cfg *model.Config, doc fileDoc) {
	if doc.Mode != "" {
		cfg.Mode = doc.Mode
	}
	if doc.IntegrationBranch != "" {
		cfg.IntegrationBranch = doc.IntegrationBranch
	}
	if doc.RequireCleanTree != nil {
		cfg.RequireCleanTree = *doc.RequireCleanTree
	}
	if doc.RequireVerification != nil {
		cfg.RequireVerification = *doc.RequireVerification
	}
	if doc.DepsPolicy != "" {
		cfg.DepsPolicy = doc.DepsPolicy
	}
	if doc.AllowedDeps != nil {
		cfg.AllowedDeps = doc.AllowedDeps
	}
	if doc.Allow != nil {
		cfg.Allow = doc.Allow
	}
	if doc.Deny != nil {
		cfg.Deny = doc.Deny
	}
	if doc.Lockfiles != nil {
		cfg.Lockfiles = doc.Lockfiles
	}
	if doc.RiskTriggers != nil {
		cfg.RiskTriggers = doc.RiskTriggers
	}
	if doc.TierCommands != nil {
		cfg.TierCommands = make(map[model.Tier][]string, len(doc.TierCommands))
		for name, cmds := range doc.TierCommands {
			switch name {
			case model.Tier0.String():
				cfg.TierCommands[model.Tier0] = cmds
			case model.Tier1.String():
				cfg.TierCommands[model.Tier1] = cmds
			case model.Tier2.String():
				cfg.TierCommands[model.Tier2] = cmds
			}
		}
	}
	if doc.MaxReviewRounds != 0 {
		cfg.MaxReviewRounds = doc.MaxReviewRounds
	}
	if doc.MaxAutoResumes != 0 {
		cfg.MaxAutoResumes = doc.MaxAutoResumes
	}
	if doc.WorkerCallTimeout != 0 {
		cfg.WorkerCallTimeout = doc.WorkerCallTimeout
	}
	if doc.VerificationTimeout != 0 {
		cfg.VerificationTimeout = doc.VerificationTimeout
	}
	if doc.AutoResumeBackoff != nil {
		cfg.AutoResumeBackoff = doc.AutoResumeBackoff
	}
	if doc.StallThreshold != 0 {
		cfg.StallThreshold = doc.StallThreshold
	}
	if doc.CollisionStaleAfter != 0 {
		cfg.CollisionStaleAfter = doc.CollisionStaleAfter
	}
	if doc.CollisionPolicy != "" {
		cfg.CollisionPolicy = doc.CollisionPolicy
	}
	if doc.MaxTicks != 0 {
		cfg.MaxTicks = doc.MaxTicks
	}
	if doc.TimeBudget != 0 {
		cfg.TimeBudget = doc.TimeBudget
	}
	if doc.WorkerBinary != "" {
		cfg.WorkerBinary = doc.WorkerBinary
	}
	if doc.FallbackWorkerBinary != "" {
		cfg.FallbackWorkerBinary = doc.FallbackWorkerBinary
	}
	if doc.UseIsolatedWorktree != nil {
		cfg.UseIsolatedWorktree = *doc.UseIsolatedWorktree
	}
	if doc.AutoResume != nil {
		cfg.AutoResume = *doc.AutoResume
	}
}
