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
	"encoding/json"
	"fmt"

	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/scopeguard"
)

// planPayload is the structured result the worker adapter extracts from a
// PLAN call, re-marshaled from worker.Result.Structured.
type planPayload struct {
	Rejected        bool               `json:"rejected"`
	RejectionReason string             `json:"rejection_reason"`
	Milestones      []milestonePayload `json:"milestones"`
}

type milestonePayload struct {
	ID               string   `json:"id"`
	Goal             string   `json:"goal"`
	ExpectedFiles    []string `json:"files_expected"`
	RiskLevel        string   `json:"risk_level"`
	DoneChecks       []string `json:"done_checks"`
	VerificationTier *int     `json:"verification_tier_override"`
}

// implementPayload is the structured result from an IMPLEMENT call.
type implementPayload struct {
	ChangedFiles    []string `json:"changed_files"`
	Blocked         bool     `json:"blocked"`
	BlockedReason   string   `json:"blocked_reason"`
	PackagesAdded   []string `json:"packages_added"`
	PackagesRemoved []string `json:"packages_removed"`
	PackagesUpgraded []string `json:"packages_upgraded"`
	DiffStat        string   `json:"diff_stat"`
}

// reviewPayload is the structured result from a REVIEW call.
type reviewPayload struct {
	Verdict          string   `json:"verdict"` // "approve" | "request_changes"
	RequestedChanges []string `json:"requested_changes"`
	UnmetDoneChecks  []string `json:"unmet_done_checks"`
}

// decodeStructured re-marshals a worker.Result.Structured map into a typed
// payload. A worker is free to omit fields; it is never free to send a
// value of the wrong shape, and that case surfaces as a decode error which
// the caller treats the same as a parse failure.
func decodeStructured[T any](structured map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(structured)
	if err != nil {
		return out, fmt.Errorf("re-marshaling structured result: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding structured result: %w", err)
	}
	return out, nil
}

func toMilestones(payload []milestonePayload) []model.Milestone {
	out := make([]model.Milestone, 0, len(payload))
	for _, m := range payload {
		milestone := model.Milestone{
			ID:            m.ID,
			Goal:          m.Goal,
			ExpectedFiles: m.ExpectedFiles,
			RiskLevel:     model.RiskLevel(m.RiskLevel),
			DoneChecks:    m.DoneChecks,
		}
		if m.VerificationTier != nil {
			tier := model.Tier(*m.VerificationTier)
			milestone.VerificationTier = &tier
		}
		out = append(out, milestone)
	}
	return out
}

func toPackageDelta(p implementPayload) scopeguard.PackageDelta {
	return scopeguard.PackageDelta{
		Added:    p.PackagesAdded,
		Removed:  p.PackagesRemoved,
		Upgraded: p.PackagesUpgraded,
		DiffStat: p.DiffStat,
	}
}
