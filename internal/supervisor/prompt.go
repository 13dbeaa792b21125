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
	"fmt"
	"strings"

	"github.com/runrhq/runr/internal/model"
)

// renderPlanPrompt asks the worker to decompose the task into milestones.
// The supervisor does not care about a worker's prose; it only reads the
// fenced JSON block worker.extractStructured knows how to find.
func renderPlanPrompt(run *model.Run) string {
	var b strings.Builder
	b.WriteString("You are planning the implementation of the following task in a git repository.\n\n")
	b.WriteString("Task:\n")
	b.WriteString(run.TaskText)
	b.WriteString("\n\nDecompose the task into one or more milestones, each independently verifiable and checkpointable. ")
	b.WriteString("Respond with a fenced ```json block containing an object with a \"milestones\" array. ")
	b.WriteString("Each milestone must have: id, goal, files_expected (repo-relative paths), risk_level (low|medium|high), done_checks (prose predicates). ")
	b.WriteString("If the task cannot be planned as given, respond instead with {\"rejected\": true, \"rejection_reason\": \"...\"}.\n")
	return b.String()
}

// renderImplementPrompt asks the worker to implement the current milestone,
// optionally carrying forward feedback (the caller supplies it only after a
// failed verification).
func renderImplementPrompt(run *model.Run, m model.Milestone, feedback string) string {
	var b strings.Builder
	b.WriteString("Implement the following milestone in the working tree.\n\n")
	fmt.Fprintf(&b, "Milestone: %s\nGoal: %s\n", m.ID, m.Goal)
	if len(m.DoneChecks) > 0 {
		b.WriteString("Done when:\n")
		for _, c := range m.DoneChecks {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if feedback != "" {
		b.WriteString("\nThe previous attempt did not pass:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}
	b.WriteString("\nMake the change, then respond with a fenced ```json block: {\"changed_files\": [...]}. ")
	b.WriteString("If any dependency lockfile changed, also include packages_added, packages_removed, packages_upgraded, diff_stat. ")
	b.WriteString("If the milestone cannot be completed as scoped, respond with {\"blocked\": true, \"blocked_reason\": \"...\"} instead.\n")
	return b.String()
}

// renderReviewPrompt asks the worker to review the current milestone's
// implementation against its done-checks and the verification evidence.
func renderReviewPrompt(run *model.Run, m model.Milestone, verify model.VerifyResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the implementation of milestone %q against its done-checks.\n\n", m.ID)
	b.WriteString("Goal: " + m.Goal + "\n")
	if len(m.DoneChecks) > 0 {
		b.WriteString("Done checks:\n")
		for _, c := range m.DoneChecks {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "\nVerification tier %s result: ok=%t\n", verify.Tier, verify.OK)
	b.WriteString("\nRespond with a fenced ```json block: {\"verdict\": \"approve\"} if the milestone is done, ")
	b.WriteString("or {\"verdict\": \"request_changes\", \"requested_changes\": [...], \"unmet_done_checks\": [...]} otherwise.\n")
	return b.String()
}
