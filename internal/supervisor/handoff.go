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
	"strings"

	"github.com/runrhq/runr/internal/model"
)

// nextAction is one structured suggestion rendered into the stop handoff.
type nextAction struct {
	Title   string `json:"title"`
	Command string `json:"command"`
	Why     string `json:"why"`
}

// stopHandoff is the JSON shape written to handoffs/stop.json.
type stopHandoff struct {
	RunID            string           `json:"run_id"`
	StopReason       model.StopReason `json:"stop_reason"`
	Phase            model.Phase      `json:"phase"`
	MilestoneIndex   int              `json:"milestone_index"`
	LastCheckpoint   string           `json:"last_checkpoint_sha,omitempty"`
	UnmetDoneChecks  []string         `json:"unmet_done_checks,omitempty"`
	LastVerification *model.VerifyResult `json:"last_verification,omitempty"`
	Detail           string           `json:"detail"`
	NextActions      []nextAction     `json:"next_actions"`
}

// writeStopHandoff writes handoffs/stop.json and handoffs/stop.md. Handoffs
// are write-once per the run store's contract; if a resumed run stops a
// second time under the same canonical name the write is skipped rather
// than treated as fatal, since the timeline's "stop" event is already the
// authoritative record.
func (s *Supervisor) writeStopHandoff(reason model.StopReason, phase model.Phase, detail string) error {
	if s.deps.Masker != nil {
		detail = s.deps.Masker.Mask(detail)
	}

	handoff := stopHandoff{
		RunID:            s.run.ID,
		StopReason:       reason,
		Phase:            phase,
		MilestoneIndex:   s.run.MilestoneIndex,
		LastCheckpoint:   s.run.LastCheckpoint,
		LastVerification: s.run.LastVerification,
		Detail:           detail,
		NextActions:      nextActionsFor(s.run, reason),
	}
	if s.run.MilestoneIndex < len(s.run.Milestones) {
		m := s.run.Milestones[s.run.MilestoneIndex]
		handoff.UnmetDoneChecks = m.DoneChecks
	}

	data, err := json.MarshalIndent(handoff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stop handoff: %w", err)
	}
	_ = s.deps.Store.WriteHandoff("stop.json", data)
	_ = s.deps.Store.WriteHandoff("stop.md", []byte(renderStopMarkdown(handoff)))
	return nil
}

func nextActionsFor(run *model.Run, reason model.StopReason) []nextAction {
	resume := nextAction{
		Title:   "Resume the run from its last checkpoint",
		Command: fmt.Sprintf("runr resume %s", run.ID),
		Why:     "the stop reason is auto-resumable",
	}
	intervene := nextAction{
		Title:   "Record a manual intervention and continue by hand",
		Command: fmt.Sprintf("runr intervene %s --reason %s", run.ID, reason),
		Why:     "the stop reason requires a human decision",
	}
	report := nextAction{
		Title:   "Inspect the full run timeline",
		Command: fmt.Sprintf("runr report %s", run.ID),
		Why:     "review what led to the stop before deciding how to proceed",
	}

	if reason.AutoResumable() {
		return []nextAction{resume, report}
	}
	return []nextAction{intervene, report}
}

func renderStopMarkdown(h stopHandoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s stopped\n\n", h.RunID)
	fmt.Fprintf(&b, "- Reason: `%s`\n", h.StopReason)
	fmt.Fprintf(&b, "- Phase: `%s`\n", h.Phase)
	fmt.Fprintf(&b, "- Milestone index: %d\n", h.MilestoneIndex)
	if h.LastCheckpoint != "" {
		fmt.Fprintf(&b, "- Last checkpoint: `%s`\n", h.LastCheckpoint)
	}
	b.WriteString("\n" + h.Detail + "\n")
	if len(h.UnmetDoneChecks) > 0 {
		b.WriteString("\n## Unmet done-checks\n\n")
		for _, c := range h.UnmetDoneChecks {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if h.LastVerification != nil && !h.LastVerification.OK {
		b.WriteString("\n## Last verification failure\n\n")
		for _, c := range h.LastVerification.Commands {
			if c.ExitCode != 0 {
				fmt.Fprintf(&b, "- `%s` exited %d\n\n```\n%s\n```\n", c.Command, c.ExitCode, c.Output)
			}
		}
	}
	b.WriteString("\n## Next actions\n\n")
	for _, a := range h.NextActions {
		fmt.Fprintf(&b, "- **%s** — `%s` (%s)\n", a.Title, a.Command, a.Why)
	}
	return b.String()
}
