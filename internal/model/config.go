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

package model

import (
	"encoding/json"
	"time"
)

// Config is the effective configuration captured as an immutable snapshot
// at run start. Resume reads this snapshot, never the live config file.
type Config struct {
	Mode                  WorkflowMode  `json:"mode" yaml:"mode"`
	IntegrationBranch     string        `json:"integration_branch" yaml:"integration_branch"`
	RequireCleanTree      bool          `json:"require_clean_tree" yaml:"require_clean_tree"`
	RequireVerification   bool          `json:"require_verification" yaml:"require_verification"`
	DepsPolicy            DepsPolicy    `json:"deps_policy" yaml:"deps_policy"`
	AllowedDeps           []string      `json:"allowed_packages,omitempty" yaml:"allowed_packages,omitempty"`
	Allow                 []string      `json:"allow" yaml:"allow"`
	Deny                  []string      `json:"deny" yaml:"deny"`
	Lockfiles             []string      `json:"lockfiles" yaml:"lockfiles"`
	RiskTriggers           []string     `json:"risk_triggers,omitempty" yaml:"risk_triggers,omitempty"`
	TierCommands          map[Tier][]string `json:"-" yaml:"-"`
	MaxReviewRounds       int           `json:"max_review_rounds" yaml:"max_review_rounds"`
	MaxAutoResumes        int           `json:"max_auto_resumes" yaml:"max_auto_resumes"`
	WorkerCallTimeout     time.Duration `json:"worker_call_timeout" yaml:"worker_call_timeout"`
	VerificationTimeout   time.Duration `json:"verification_timeout" yaml:"verification_timeout"`
	AutoResumeBackoff     []time.Duration `json:"auto_resume_backoff" yaml:"auto_resume_backoff"`
	StallThreshold        time.Duration `json:"stall_threshold" yaml:"stall_threshold"`
	CollisionStaleAfter   time.Duration `json:"collision_stale_after" yaml:"collision_stale_after"`
	CollisionPolicy       string        `json:"collision_policy" yaml:"collision_policy"` // serialize|force|fail
	MaxTicks              int           `json:"max_ticks" yaml:"max_ticks"`
	TimeBudget            time.Duration `json:"time_budget" yaml:"time_budget"`
	WorkerBinary          string        `json:"worker_binary" yaml:"worker_binary"`
	FallbackWorkerBinary  string        `json:"fallback_worker_binary,omitempty" yaml:"fallback_worker_binary,omitempty"`
	UseIsolatedWorktree   bool          `json:"use_isolated_worktree" yaml:"use_isolated_worktree"`
	AutoResume            bool          `json:"auto_resume" yaml:"auto_resume"`
}

// configAlias avoids infinite recursion in Config's custom JSON methods
// while reusing the field tags above.
type configAlias Config

// configWire is configAlias plus TierCommands rendered with string keys,
// since JSON object keys must be strings but Tier is an int.
type configWire struct {
	configAlias
	TierCommands map[string][]string `json:"tier_commands"`
}

// MarshalJSON renders TierCommands keyed by tier name ("tier0", "tier1",
// "tier2") so the config snapshot is stable across schema changes to Tier.
func (c Config) MarshalJSON() ([]byte, error) {
	wire := configWire{configAlias: configAlias(c), TierCommands: make(map[string][]string, len(c.TierCommands))}
	for tier, cmds := range c.TierCommands {
		wire.TierCommands[tier.String()] = cmds
	}
	return json.Marshal(wire)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Config) UnmarshalJSON(data []byte) error {
	var wire configWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Config(wire.configAlias)
	c.TierCommands = make(map[Tier][]string, len(wire.TierCommands))
	for name, cmds := range wire.TierCommands {
		switch name {
		case Tier0.String():
			c.TierCommands[Tier0] = cmds
		case Tier1.String():
			c.TierCommands[Tier1] = cmds
		case Tier2.String():
			c.TierCommands[Tier2] = cmds
		}
	}
	return nil
}
