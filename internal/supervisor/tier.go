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

package supervisor

import (
	"path"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/runrhq/runr/internal/model"
)

// selectTier picks the verification tier for a milestone given the files it
// touched, per the precedence order in spec §4.1: a milestone-level
// override wins outright; otherwise a matched risk-trigger pattern beats a
// high risk_level, which beats the tier0 default. It returns the reason for
// any escalation so the caller can record it on the timeline, or "" if the
// tier was not escalated.
func selectTier(m model.Milestone, changedFiles []string, cfg model.Config) (model.Tier, string) {
	if m.VerificationTier != nil {
		return *m.VerificationTier, ""
	}

	for _, pattern := range cfg.RiskTriggers {
		for _, f := range changedFiles {
			if ok, _ := doublestar.Match(pattern, path.Clean(f)); ok {
				return escalate(model.Tier0), "risk_trigger"
			}
		}
	}

	if m.RiskLevel == model.RiskHigh {
		return escalate(model.Tier0), "risk_level"
	}

	return model.Tier0, ""
}

func escalate(t model.Tier) model.Tier {
	if t < model.Tier2 {
		return t + 1
	}
	return t
}
